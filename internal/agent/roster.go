package agent

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RosterConfig is the on-disk roster of agents for one project,
// loaded from YAML the way the teacher's agents.LoadTeamsConfig /
// LoadProjectsConfig load a TeamsConfig/ProjectsConfig — retargeted
// from "name/model/role/color" to this substrate's fuller Agent
// profile (skills, hierarchy, performance metrics).
type RosterConfig struct {
	Agents []AgentSeed `yaml:"agents"`
}

// AgentSeed is one roster entry. SkillLevels is optional; a skill
// listed in Skills with no level defaults to 5.
type AgentSeed struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	Role            Role           `yaml:"role"`
	ReportsTo       string         `yaml:"reports_to"`
	HierarchyLevel  int            `yaml:"hierarchy_level"`
	MaxWorkload     float64        `yaml:"max_workload"`
	Skills          []string       `yaml:"skills"`
	SkillLevels     map[string]int `yaml:"skill_levels"`
	Personality     Personality    `yaml:"personality"`
	Specializations []string       `yaml:"specializations"`
	CompletionRate  float64        `yaml:"completion_rate"`
	QualityScore    float64        `yaml:"quality_score"`
	SpeedFactor     float64        `yaml:"speed_factor"`
}

// toAgent converts a roster entry into a live Agent, filling in the
// defaults a freshly-hired agent starts with.
func (s AgentSeed) toAgent() *Agent {
	skills := make(map[string]bool, len(s.Skills))
	for _, sk := range s.Skills {
		skills[sk] = true
	}
	levels := s.SkillLevels
	if levels == nil {
		levels = make(map[string]int, len(s.Skills))
	}
	for _, sk := range s.Skills {
		if _, ok := levels[sk]; !ok {
			levels[sk] = 5
		}
	}
	specializations := make(map[string]bool, len(s.Specializations))
	for _, sp := range s.Specializations {
		specializations[sp] = true
	}

	speedFactor := s.SpeedFactor
	if speedFactor == 0 {
		speedFactor = 1.0
	}
	maxWorkload := s.MaxWorkload
	if maxWorkload == 0 {
		maxWorkload = 40
	}

	return &Agent{
		ID:              s.ID,
		Name:            s.Name,
		Role:            s.Role,
		Skills:          skills,
		SkillLevels:     levels,
		HierarchyLevel:  s.HierarchyLevel,
		MaxWorkload:     maxWorkload,
		ReportsTo:       s.ReportsTo,
		DirectReports:   make(map[string]bool),
		CompletionRate:  s.CompletionRate,
		QualityScore:    s.QualityScore,
		SpeedFactor:     speedFactor,
		Personality:     s.Personality,
		Specializations: specializations,
	}
}

// LoadRoster reads a RosterConfig from path and builds a Registry
// from it, seeding agents in file order so reports_to parents are
// registered before — or after, Put tolerates either — their reports.
func LoadRoster(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RosterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	reg := NewRegistry()
	for _, seed := range cfg.Agents {
		if err := reg.Put(seed.toAgent()); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
