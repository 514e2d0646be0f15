package context

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Strategy selects how chunks/summaries are packed into a token
// budget (spec.md §4.7).
type Strategy string

const (
	Hierarchical      Strategy = "hierarchical"
	SemanticClustering Strategy = "semantic_clustering"
	TemporalPriority  Strategy = "temporal_priority"
	Hybrid            Strategy = "hybrid"
)

// Result is the assembled context for one retrieval.
type Result struct {
	Chunks    []*Chunk
	Summaries []*Summary
	Strategy  Strategy
	Stats     map[string]interface{}
}

// Assembler collects candidates from a Store and selects a
// budget-bounded subset via one of the four strategies.
type Assembler struct {
	store *Store
	now   func() time.Time
}

// NewAssembler builds an Assembler over store. nowFn may be nil to
// use time.Now (tests inject a fixed function for determinism).
func NewAssembler(store *Store, nowFn func() time.Time) *Assembler {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Assembler{store: store, now: nowFn}
}

// Index persists a chunk so it becomes a future candidate (spec.md
// §4.9: "on task creation, index content into the assembler").
func (a *Assembler) Index(c *Chunk) error {
	return a.store.Put(c)
}

// CollectCandidates unions semantic top-K (if queryEmbedding is
// given), keyword top-K, recent chunks for (project, agent), and a
// one-hop relationship expansion — deduplicated by id (spec.md §4.7).
func (a *Assembler) CollectCandidates(project, agent, query string, queryEmbedding []float64) ([]*Chunk, error) {
	seen := make(map[string]bool)
	var out []*Chunk
	add := func(cs []*Chunk) {
		for _, c := range cs {
			if !seen[c.ID] {
				seen[c.ID] = true
				out = append(out, c)
			}
		}
	}

	if len(queryEmbedding) > 0 {
		all, err := a.store.All(project)
		if err != nil {
			return nil, err
		}
		add(semanticTopK(queryEmbedding, all, 100))
	}

	kw, err := a.store.KeywordSearch(project, query, 100)
	if err != nil {
		return nil, err
	}
	add(kw)

	recent, err := a.store.Recent(project, agent, 50)
	if err != nil {
		return nil, err
	}
	add(recent)

	seedLimit := out
	if len(seedLimit) > 20 {
		seedLimit = seedLimit[:20]
	}
	related, err := a.relatedTo(seedLimit, 50)
	if err != nil {
		return nil, err
	}
	add(related)

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Assembler) relatedTo(seeds []*Chunk, limit int) ([]*Chunk, error) {
	ids := make(map[string]bool)
	for _, c := range seeds {
		for _, related := range c.Relationships {
			for _, id := range related {
				ids[id] = true
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var idList []string
	for id := range ids {
		idList = append(idList, id)
	}
	sort.Strings(idList)
	chunks, err := a.store.GetMany(idList)
	if err != nil {
		return nil, err
	}
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func semanticTopK(query []float64, chunks []*Chunk, k int) []*Chunk {
	type scored struct {
		c   *Chunk
		sim float64
	}
	var withEmbeddings []scored
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			withEmbeddings = append(withEmbeddings, scored{c, cosine(query, c.Embedding)})
		}
	}
	sort.Slice(withEmbeddings, func(i, j int) bool {
		if withEmbeddings[i].sim != withEmbeddings[j].sim {
			return withEmbeddings[i].sim > withEmbeddings[j].sim
		}
		return withEmbeddings[i].c.ID < withEmbeddings[j].c.ID
	})
	if len(withEmbeddings) > k {
		withEmbeddings = withEmbeddings[:k]
	}
	out := make([]*Chunk, len(withEmbeddings))
	for i, s := range withEmbeddings {
		out[i] = s.c
	}
	return out
}

// scoreQueryRelevance sets each chunk's "query" relevance via keyword
// overlap against query terms. Select runs it for every strategy,
// overwriting any earlier value, so it is the base relevance signal
// whether or not embeddings are present (matching
// stateless_rag_manager.py's _score_chunk_relevance, simplified to a
// concrete keyword-overlap heuristic rather than its unimplemented
// embedding path).
func scoreQueryRelevance(query string, chunks []*Chunk) {
	terms := strings.Fields(strings.ToLower(query))
	for _, c := range chunks {
		if len(terms) == 0 {
			c.setRelevance("query", 0.5)
			continue
		}
		content := strings.ToLower(c.Content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				hits++
			}
		}
		score := float64(hits) / float64(len(terms))
		if score == 0 {
			score = 0.2
		}
		c.setRelevance("query", score)
	}
}

// Select runs the chosen strategy over candidates, bounded by budget
// tokens. queryEmbedding may be nil; it is only consulted by
// semantic_clustering. Selection is deterministic for a given
// candidate set and strategy: all sorts use id as the final tie-break
// (spec.md §4.7).
func (a *Assembler) Select(strategy Strategy, query string, queryEmbedding []float64, candidates []*Chunk, budget int) *Result {
	scoreQueryRelevance(query, candidates)

	switch strategy {
	case Hierarchical:
		return a.hierarchical(candidates, budget)
	case SemanticClustering:
		return a.semanticClustering(queryEmbedding, candidates, budget)
	case TemporalPriority:
		return a.temporalPriority(candidates, budget)
	default:
		return a.hybrid(candidates, budget)
	}
}

// --- hierarchical: cluster by (type, project), summarize each
// cluster, greedy knapsack by value/weight over chunks+summaries.

func (a *Assembler) hierarchical(chunks []*Chunk, budget int) *Result {
	clusters := make(map[string][]*Chunk)
	for _, c := range chunks {
		key := string(c.Type) + "/" + c.Project
		clusters[key] = append(clusters[key], c)
	}

	var summaries []*Summary
	var keys []string
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		summaries = append(summaries, a.clusterSummary(clusters[k], k))
	}

	selectedChunks, selectedSummaries := knapsack(chunks, summaries, budget)
	tokensUsed := sumTokens(selectedChunks, selectedSummaries)
	return &Result{
		Chunks: selectedChunks, Summaries: selectedSummaries, Strategy: Hierarchical,
		Stats: map[string]interface{}{
			"strategy":        string(Hierarchical),
			"selected_chunks": len(selectedChunks),
			"summaries":       len(selectedSummaries),
			"tokens_used":     tokensUsed,
		},
	}
}

func (a *Assembler) clusterSummary(chunks []*Chunk, label string) *Summary {
	ids := make([]string, len(chunks))
	var relevanceSum float64
	for i, c := range chunks {
		ids[i] = c.ID
		relevanceSum += c.getRelevance("query")
	}
	sort.Strings(ids)
	avg := 0.5
	if len(chunks) > 0 {
		avg = relevanceSum / float64(len(chunks))
	}
	content := "summary of " + label + " cluster"
	return &Summary{
		ID: "cluster_summary_" + label, Level: 1, Content: content,
		ChunkIDs: ids, TokenCount: tokens(content), RelevanceScore: avg,
		CreatedAt: a.now(),
	}
}

// --- semantic_clustering: k-means over embeddings (k ~
// min(20,n/5+1)), rank clusters by centroid-to-query cosine, take
// highest-relevance chunks per cluster until its share of the budget
// is exhausted, then summarize the remainder.

func (a *Assembler) semanticClustering(queryEmbedding []float64, chunks []*Chunk, budget int) *Result {
	var embedded []*Chunk
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			embedded = append(embedded, c)
		}
	}
	if len(embedded) == 0 {
		// No embeddings available: fall back to relevance-ordered
		// selection, matching the original's documented fallback.
		sorted := append([]*Chunk(nil), chunks...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].getRelevance("query") != sorted[j].getRelevance("query") {
				return sorted[i].getRelevance("query") > sorted[j].getRelevance("query")
			}
			return sorted[i].ID < sorted[j].ID
		})
		selected, used := fillByTokens(sorted, budget)
		return &Result{
			Chunks: selected, Strategy: SemanticClustering,
			Stats: map[string]interface{}{"strategy": string(SemanticClustering), "fallback": true, "tokens_used": used},
		}
	}

	k := len(embedded)/5 + 1
	if k > 20 {
		k = 20
	}
	if k < 1 {
		k = 1
	}
	clusters := kmeans(embedded, k)

	// Rank clusters by centroid-to-query cosine similarity when a
	// query embedding is available; otherwise fall back to average
	// chunk relevance as the cluster's rank key.
	type ranked struct {
		idx  int
		sim  float64
		dims []*Chunk
	}
	var withSim []ranked
	for i, cluster := range clusters {
		if len(cluster) == 0 {
			continue
		}
		var sim float64
		if len(queryEmbedding) > 0 {
			sim = cosine(queryEmbedding, centroidOf(cluster))
		} else {
			sim = avgRelevance(cluster)
		}
		withSim = append(withSim, ranked{i, sim, cluster})
	}
	sort.Slice(withSim, func(i, j int) bool {
		if withSim[i].sim != withSim[j].sim {
			return withSim[i].sim > withSim[j].sim
		}
		return withSim[i].idx < withSim[j].idx
	})

	perCluster := budget / len(withSim)
	var selected []*Chunk
	var summaries []*Summary
	used := 0
	for _, rc := range withSim {
		sorted := append([]*Chunk(nil), rc.dims...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].getRelevance("query") != sorted[j].getRelevance("query") {
				return sorted[i].getRelevance("query") > sorted[j].getRelevance("query")
			}
			return sorted[i].ID < sorted[j].ID
		})
		clusterBudget := perCluster
		var clusterSelected []*Chunk
		clusterUsed := 0
		var remainder []*Chunk
		for _, c := range sorted {
			cost := c.TokenCost()
			if used+cost <= budget && clusterUsed+cost <= clusterBudget {
				clusterSelected = append(clusterSelected, c)
				clusterUsed += cost
			} else {
				remainder = append(remainder, c)
			}
		}
		selected = append(selected, clusterSelected...)
		used += clusterUsed
		if len(remainder) > 0 {
			s := a.clusterSummary(remainder, "semantic")
			if used+s.TokenCount <= budget {
				summaries = append(summaries, s)
				used += s.TokenCount
			}
		}
	}

	return &Result{
		Chunks: selected, Summaries: summaries, Strategy: SemanticClustering,
		Stats: map[string]interface{}{
			"strategy":        string(SemanticClustering),
			"clusters":        len(withSim),
			"selected_chunks": len(selected),
			"tokens_used":     used,
		},
	}
}

func avgRelevance(chunks []*Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.getRelevance("query")
	}
	return sum / float64(len(chunks))
}

func centroidOf(chunks []*Chunk) []float64 {
	if len(chunks) == 0 {
		return nil
	}
	dims := len(chunks[0].Embedding)
	centroid := make([]float64, dims)
	for _, c := range chunks {
		for i, v := range c.Embedding {
			if i < dims {
				centroid[i] += v
			}
		}
	}
	for i := range centroid {
		centroid[i] /= float64(len(chunks))
	}
	return centroid
}

// kmeans is a minimal, deterministic (seeded by id order, not random)
// k-means over embeddings: centroids are seeded from the first k
// chunks in id order, refined for a fixed number of iterations.
func kmeans(chunks []*Chunk, k int) [][]*Chunk {
	sorted := append([]*Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if k > len(sorted) {
		k = len(sorted)
	}
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float64(nil), sorted[i].Embedding...)
	}

	var assignment []int
	for iter := 0; iter < 10; iter++ {
		assignment = make([]int, len(sorted))
		for i, c := range sorted {
			best, bestSim := 0, -2.0
			for ci, centroid := range centroids {
				sim := cosine(c.Embedding, centroid)
				if sim > bestSim {
					bestSim, best = sim, ci
				}
			}
			assignment[i] = best
		}
		newCentroids := make([][]float64, k)
		counts := make([]int, k)
		dims := len(sorted[0].Embedding)
		for i := range newCentroids {
			newCentroids[i] = make([]float64, dims)
		}
		for i, c := range sorted {
			cl := assignment[i]
			counts[cl]++
			for d, v := range c.Embedding {
				if d < dims {
					newCentroids[cl][d] += v
				}
			}
		}
		for i := range newCentroids {
			if counts[i] == 0 {
				newCentroids[i] = centroids[i]
				continue
			}
			for d := range newCentroids[i] {
				newCentroids[i][d] /= float64(counts[i])
			}
		}
		centroids = newCentroids
	}

	clusters := make([][]*Chunk, k)
	for i, c := range sorted {
		cl := assignment[i]
		clusters[cl] = append(clusters[cl], c)
	}
	return clusters
}

// --- temporal_priority: relevance combined with exponential time
// decay (14-day half-life on age, 7-day on last access).

func (a *Assembler) temporalPriority(chunks []*Chunk, budget int) *Result {
	now := a.now()
	for _, c := range chunks {
		ageDays := now.Sub(c.Timestamp).Hours() / 24
		accessDays := now.Sub(c.LastAccessed).Hours() / 24
		temporal := math.Pow(0.5, ageDays/14) * math.Pow(0.5, accessDays/7)
		c.setRelevance("temporal", temporal)
		combined := c.getRelevance("query")*0.7 + temporal*0.3
		c.setRelevance("combined_temporal", combined)
	}
	sorted := append([]*Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].getRelevance("combined_temporal") != sorted[j].getRelevance("combined_temporal") {
			return sorted[i].getRelevance("combined_temporal") > sorted[j].getRelevance("combined_temporal")
		}
		return sorted[i].ID < sorted[j].ID
	})
	selected, used := fillByTokens(sorted, budget)
	return &Result{
		Chunks: selected, Strategy: TemporalPriority,
		Stats: map[string]interface{}{"strategy": string(TemporalPriority), "selected_chunks": len(selected), "tokens_used": used},
	}
}

// --- hybrid: multi-criteria score, first pass fills 80% of budget
// preferring type diversity, second pass summarizes same-type groups
// of >= 3 remaining high-value chunks.

func (a *Assembler) hybrid(chunks []*Chunk, budget int) *Result {
	now := a.now()
	for _, c := range chunks {
		relevance := c.getRelevance("query")
		ageDays := now.Sub(c.Timestamp).Hours() / 24
		temporal := math.Exp(-ageDays / 14)
		popularity := math.Min(1.0, float64(c.AccessCount)/10)
		typeImp := importanceOf(c.Type)
		relationshipBoost := float64(len(c.Relationships["related"])) * 0.1

		combined := relevance*0.4 + temporal*0.2 + popularity*0.1 + typeImp*0.2 + relationshipBoost*0.1
		c.setRelevance("combined", combined)
	}

	sorted := append([]*Chunk(nil), chunks...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].getRelevance("combined") != sorted[j].getRelevance("combined") {
			return sorted[i].getRelevance("combined") > sorted[j].getRelevance("combined")
		}
		return sorted[i].ID < sorted[j].ID
	})

	primaryBudget := int(float64(budget) * 0.8)
	var selected []*Chunk
	selectedTypes := make(map[Type]bool)
	used := 0
	selectedSet := make(map[string]bool)
	for _, c := range sorted {
		if used >= primaryBudget {
			break
		}
		cost := c.TokenCost()
		if used+cost > primaryBudget {
			continue
		}
		if !selectedTypes[c.Type] || len(selected) < 5 {
			selected = append(selected, c)
			selectedSet[c.ID] = true
			selectedTypes[c.Type] = true
			used += cost
		}
	}

	var remaining []*Chunk
	for _, c := range sorted {
		if !selectedSet[c.ID] && c.getRelevance("combined") > 0.6 {
			remaining = append(remaining, c)
		}
	}
	byType := make(map[Type][]*Chunk)
	for _, c := range remaining {
		byType[c.Type] = append(byType[c.Type], c)
	}
	var types []Type
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var summaries []*Summary
	for _, t := range types {
		group := byType[t]
		if len(group) >= 3 {
			s := a.clusterSummary(group, string(t))
			if used+s.TokenCount <= budget {
				summaries = append(summaries, s)
				used += s.TokenCount
			}
		}
	}

	return &Result{
		Chunks: selected, Summaries: summaries, Strategy: Hybrid,
		Stats: map[string]interface{}{
			"strategy":          string(Hybrid),
			"selected_chunks":   len(selected),
			"type_summaries":    len(summaries),
			"content_diversity": len(selectedTypes),
			"tokens_used":       used,
		},
	}
}

// --- shared helpers

// knapsack runs the greedy value/weight selection from
// stateless_rag_manager.py's _optimal_selection_dp: chunks valued at
// relevance*100, summaries at relevance*80, sorted by value/weight
// descending, greedily packed while tokens remain. Ties broken by id.
func knapsack(chunks []*Chunk, summaries []*Summary, budget int) ([]*Chunk, []*Summary) {
	type item struct {
		id        string
		isChunk   bool
		chunk     *Chunk
		summary   *Summary
		value     float64
		weight    int
	}
	var items []item
	for _, c := range chunks {
		items = append(items, item{id: c.ID, isChunk: true, chunk: c, value: c.getRelevance("query") * 100, weight: c.TokenCost()})
	}
	for _, s := range summaries {
		items = append(items, item{id: s.ID, isChunk: false, summary: s, value: s.RelevanceScore * 80, weight: s.TokenCount})
	}
	sort.Slice(items, func(i, j int) bool {
		ri := items[i].value / math.Max(float64(items[i].weight), 1)
		rj := items[j].value / math.Max(float64(items[j].weight), 1)
		if ri != rj {
			return ri > rj
		}
		return items[i].id < items[j].id
	})

	var selectedChunks []*Chunk
	var selectedSummaries []*Summary
	used := 0
	for _, it := range items {
		if used+it.weight > budget {
			continue
		}
		if it.isChunk {
			selectedChunks = append(selectedChunks, it.chunk)
		} else {
			selectedSummaries = append(selectedSummaries, it.summary)
		}
		used += it.weight
	}
	return selectedChunks, selectedSummaries
}

func fillByTokens(sorted []*Chunk, budget int) ([]*Chunk, int) {
	var selected []*Chunk
	used := 0
	for _, c := range sorted {
		cost := c.TokenCost()
		if used+cost > budget {
			continue
		}
		selected = append(selected, c)
		used += cost
	}
	return selected, used
}

func sumTokens(chunks []*Chunk, summaries []*Summary) int {
	total := 0
	for _, c := range chunks {
		total += c.TokenCost()
	}
	for _, s := range summaries {
		total += s.TokenCount
	}
	return total
}
