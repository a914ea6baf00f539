package eval

import (
	"context"
	"fmt"
	"sort"

	"github.com/sekailabs/sekai-memory/internal/model"
	"github.com/sekailabs/sekai-memory/internal/policy"
	"github.com/sekailabs/sekai-memory/internal/retrieve"
	"github.com/sekailabs/sekai-memory/internal/store"
)

// Query is one labeled retrieval probe.
type Query struct {
	QID     string `json:"qid"`
	Query   string `json:"query"`
	Chapter int    `json:"chapter"`
	// K caps the result list. Zero means 5.
	K int `json:"k,omitempty"`
	// Viewer lists the querying participants. Empty means an all-seeing
	// reviewer built from every subject in the store.
	Viewer []string `json:"viewer,omitempty"`
	// GoldIDs name the gold memories this query should surface.
	GoldIDs []string `json:"gold_ids"`
}

// GoldMemory identifies one relevant memory by its canonical content, so the
// judgment survives store rebuilds that reassign record ids.
type GoldMemory struct {
	ID        string   `json:"id"`
	Subjects  []string `json:"subjects"`
	Predicate string   `json:"predicate,omitempty"`
	Object    string   `json:"object,omitempty"`
	MemType   string   `json:"mem_type,omitempty"`
}

// canonicalKey computes the same key a stored record with this content would
// have.
func (g GoldMemory) canonicalKey() string {
	r := model.MemoryRecord{
		MemType:   model.MemType(g.MemType),
		Subjects:  g.Subjects,
		Predicate: g.Predicate,
		Object:    g.Object,
	}
	return r.CanonicalKey()
}

// QueryResult holds one query's metrics.
type QueryResult struct {
	QID          string   `json:"qid"`
	Chapter      int      `json:"chapter"`
	Precision    float64  `json:"precision"`
	Recall       float64  `json:"recall"`
	MRR          float64  `json:"mrr"`
	RetrievedIDs []string `json:"retrieved_ids"`
	MatchedGold  []string `json:"matched_gold"`
}

// RetrievalMetrics are averaged precision/recall/MRR.
type RetrievalMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	MRR       float64 `json:"mrr"`
}

// RetrievalReport is the result of one labeled retrieval run.
type RetrievalReport struct {
	Overall    RetrievalMetrics         `json:"overall_metrics"`
	PerChapter map[int]RetrievalMetrics `json:"per_chapter"`
	Queries    []QueryResult            `json:"queries"`
	// Traces feed the trace-mode consistency checks.
	Traces []RetrievalTrace `json:"traces,omitempty"`
}

// RetrievalEvaluator runs labeled queries against the retriever and measures
// precision, recall and MRR.
type RetrievalEvaluator struct {
	store     store.Store
	retriever *retrieve.Retriever
}

// NewRetrievalEvaluator creates an evaluator using the default score weights.
func NewRetrievalEvaluator(s store.Store) *RetrievalEvaluator {
	return &RetrievalEvaluator{store: s, retriever: retrieve.New(s, retrieve.DefaultWeights())}
}

// Run executes every query and aggregates the metrics. Queries with no gold
// ids still count toward precision.
func (e *RetrievalEvaluator) Run(ctx context.Context, queries []Query, gold []GoldMemory) (*RetrievalReport, error) {
	keyToGold := make(map[string]string, len(gold))
	for _, g := range gold {
		keyToGold[g.canonicalKey()] = g.ID
	}

	defaultViewer, err := e.allSubjects(ctx)
	if err != nil {
		return nil, err
	}

	rep := &RetrievalReport{PerChapter: map[int]RetrievalMetrics{}}
	perChapter := map[int][]QueryResult{}

	for _, q := range queries {
		k := q.K
		if k <= 0 {
			k = 5
		}
		participants := q.Viewer
		if len(participants) == 0 {
			participants = defaultViewer
		}
		viewer := policy.ViewerContext{Participants: participants, Chapter: q.Chapter}

		results, err := e.retriever.SearchAtChapter(ctx, q.Query, viewer, q.Chapter, k)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.QID, err)
		}

		qr := scoreQuery(q, results, keyToGold)
		rep.Queries = append(rep.Queries, qr)
		perChapter[q.Chapter] = append(perChapter[q.Chapter], qr)
		rep.Traces = append(rep.Traces, RetrievalTrace{Viewer: viewer, RecordIDs: qr.RetrievedIDs})
	}

	rep.Overall = averageMetrics(rep.Queries)
	for ch, qs := range perChapter {
		rep.PerChapter[ch] = averageMetrics(qs)
	}
	return rep, nil
}

// scoreQuery matches retrieved records to gold memories by canonical key.
func scoreQuery(q Query, results []retrieve.Result, keyToGold map[string]string) QueryResult {
	qr := QueryResult{QID: q.QID, Chapter: q.Chapter}

	wanted := make(map[string]bool, len(q.GoldIDs))
	for _, id := range q.GoldIDs {
		wanted[id] = true
	}

	matched := map[string]bool{}
	correct := 0
	for rank, res := range results {
		qr.RetrievedIDs = append(qr.RetrievedIDs, res.Record.ID)
		goldID, ok := keyToGold[res.Record.CanonicalKey()]
		if !ok || !wanted[goldID] {
			continue
		}
		correct++
		if qr.MRR == 0 {
			qr.MRR = 1.0 / float64(rank+1)
		}
		matched[goldID] = true
	}

	if len(results) > 0 {
		qr.Precision = float64(correct) / float64(len(results))
	}
	if len(q.GoldIDs) > 0 {
		qr.Recall = float64(len(matched)) / float64(len(q.GoldIDs))
	}
	for id := range matched {
		qr.MatchedGold = append(qr.MatchedGold, id)
	}
	sort.Strings(qr.MatchedGold)
	return qr
}

func averageMetrics(qs []QueryResult) RetrievalMetrics {
	if len(qs) == 0 {
		return RetrievalMetrics{}
	}
	var m RetrievalMetrics
	for _, q := range qs {
		m.Precision += q.Precision
		m.Recall += q.Recall
		m.MRR += q.MRR
	}
	n := float64(len(qs))
	m.Precision /= n
	m.Recall /= n
	m.MRR /= n
	return m
}

// allSubjects collects every subject seen in the store, the viewer used for
// queries that do not pin one down.
func (e *RetrievalEvaluator) allSubjects(ctx context.Context) ([]string, error) {
	records, err := e.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	seen := map[string]bool{}
	var subjects []string
	for _, r := range records {
		for _, s := range r.Subjects {
			if !seen[s] {
				seen[s] = true
				subjects = append(subjects, s)
			}
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}
