package context

import (
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
)

// Store persists chunks to SQLite, following the column-per-field,
// JSON-for-sets convention used throughout (internal/tasks.Store,
// internal/eventlog.Log).
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing *sql.DB. Init must be called once before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the content_chunks table and its lookup indexes.
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS content_chunks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			agent_id TEXT,
			content TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT,
			timestamp TIMESTAMP NOT NULL,
			parent_chunk_id TEXT,
			child_chunk_ids TEXT,
			summary TEXT,
			keywords TEXT,
			relationships TEXT,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_project ON content_chunks(project_id, timestamp)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_project_agent ON content_chunks(project_id, agent_id)`)
	return err
}

// Put inserts or replaces a chunk.
func (s *Store) Put(c *Chunk) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}
	emb, err := json.Marshal(c.Embedding)
	if err != nil {
		return err
	}
	children, err := json.Marshal(c.ChildIDs)
	if err != nil {
		return err
	}
	keywords, err := json.Marshal(c.Keywords)
	if err != nil {
		return err
	}
	rel, err := json.Marshal(c.Relationships)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO content_chunks (
			id, project_id, agent_id, content, chunk_type, metadata, embedding,
			timestamp, parent_chunk_id, child_chunk_ids, summary, keywords,
			relationships, access_count, last_accessed
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id, agent_id=excluded.agent_id,
			content=excluded.content, chunk_type=excluded.chunk_type,
			metadata=excluded.metadata, embedding=excluded.embedding,
			timestamp=excluded.timestamp, parent_chunk_id=excluded.parent_chunk_id,
			child_chunk_ids=excluded.child_chunk_ids, summary=excluded.summary,
			keywords=excluded.keywords, relationships=excluded.relationships,
			access_count=excluded.access_count, last_accessed=excluded.last_accessed
	`, c.ID, c.Project, c.Agent, c.Content, string(c.Type), string(meta), string(emb),
		c.Timestamp, c.ParentID, string(children), c.Summary, string(keywords),
		string(rel), c.AccessCount, c.LastAccessed)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row scanner) (*Chunk, error) {
	var c Chunk
	var typ, meta, emb, children, keywords, rel string
	var parentID sql.NullString
	if err := row.Scan(&c.ID, &c.Project, &c.Agent, &c.Content, &typ, &meta, &emb,
		&c.Timestamp, &parentID, &children, &c.Summary, &keywords, &rel,
		&c.AccessCount, &c.LastAccessed); err != nil {
		return nil, err
	}
	c.Type = Type(typ)
	c.ParentID = parentID.String
	_ = json.Unmarshal([]byte(meta), &c.Metadata)
	_ = json.Unmarshal([]byte(emb), &c.Embedding)
	_ = json.Unmarshal([]byte(children), &c.ChildIDs)
	_ = json.Unmarshal([]byte(keywords), &c.Keywords)
	_ = json.Unmarshal([]byte(rel), &c.Relationships)
	return &c, nil
}

const selectColumns = `id, project_id, agent_id, content, chunk_type, metadata, embedding,
			timestamp, parent_chunk_id, child_chunk_ids, summary, keywords,
			relationships, access_count, last_accessed`

// Get fetches a single chunk by id.
func (s *Store) Get(id string) (*Chunk, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM content_chunks WHERE id = ?`, id)
	return scanChunk(row)
}

// GetMany fetches chunks by id, ordered by access_count desc then id
// (matching _get_related_chunks' ORDER BY access_count DESC, with a
// lexicographic tie-break for determinism).
func (s *Store) GetMany(ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM content_chunks WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// KeywordSearch returns chunks whose content or keywords contain any
// query term, limited to `limit`, newest first (stateless_rag_manager
// .py's _keyword_search, concretely implemented via SQL LIKE rather
// than left as a placeholder).
func (s *Store) KeywordSearch(project, query string, limit int) ([]*Chunk, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	var clauses []string
	args := []interface{}{project}
	for _, t := range terms {
		clauses = append(clauses, "(LOWER(content) LIKE ? OR LOWER(keywords) LIKE ?)")
		like := "%" + t + "%"
		args = append(args, like, like)
	}
	q := `SELECT ` + selectColumns + ` FROM content_chunks WHERE project_id = ? AND (` +
		strings.Join(clauses, " OR ") + `) ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Recent returns the most recently created or accessed chunks for a
// (project, agent) pair.
func (s *Store) Recent(project, agent string, limit int) ([]*Chunk, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM content_chunks
		WHERE project_id = ? AND (agent_id = ? OR ? = '')
		ORDER BY last_accessed DESC LIMIT ?`, project, agent, agent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// All returns every chunk for a project, used by the semantic search
// fallback (brute-force cosine similarity — no external vector index
// is wired, see DESIGN.md).
func (s *Store) All(project string) ([]*Chunk, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM content_chunks WHERE project_id = ?`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
