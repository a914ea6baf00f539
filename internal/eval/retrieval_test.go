package eval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekailabs/sekai-memory/internal/model"
)

func TestRetrievalEval_MetricsPerQuery(t *testing.T) {
	s := seedCoverageStore(t)
	gold := []GoldMemory{
		{ID: "g1", Subjects: []string{"dimitri", "byleth"},
			Predicate: "relationship_status", Object: "jealous", MemType: "IC"},
		{ID: "g2", Subjects: []string{"felix", "annette"}, MemType: "IC"},
	}
	queries := []Query{
		{QID: "q1", Query: "dimitri jealous", Chapter: 5, K: 2, GoldIDs: []string{"g1"}},
		{QID: "q2", Query: "archive meeting", Chapter: 5, K: 2, GoldIDs: []string{"g2"}},
	}

	rep, err := NewRetrievalEvaluator(s).Run(context.Background(), queries, gold)
	require.NoError(t, err)
	require.Len(t, rep.Queries, 2)

	q1 := rep.Queries[0]
	assert.Equal(t, 1.0, q1.Recall)
	assert.Equal(t, 1.0, q1.MRR)
	assert.Equal(t, []string{"g1"}, q1.MatchedGold)

	q2 := rep.Queries[1]
	assert.Equal(t, 1.0, q2.Recall)

	assert.Equal(t, 1.0, rep.Overall.Recall)
	assert.Len(t, rep.Traces, 2)
	assert.Contains(t, rep.PerChapter, 5)
}

func TestRetrievalEval_MissingGoldGivesZeroRecall(t *testing.T) {
	s := seedCoverageStore(t)
	gold := []GoldMemory{
		{ID: "g9", Subjects: []string{"sylvain", "ingrid"},
			Predicate: "contact", Object: "exchanged_numbers", MemType: "IC"},
	}
	queries := []Query{
		{QID: "q1", Query: "sylvain ingrid numbers", Chapter: 5, K: 5, GoldIDs: []string{"g9"}},
	}

	rep, err := NewRetrievalEvaluator(s).Run(context.Background(), queries, gold)
	require.NoError(t, err)
	assert.Zero(t, rep.Overall.Recall)
	assert.Zero(t, rep.Overall.MRR)
}

func TestRetrievalEval_ViewerRestrictsResults(t *testing.T) {
	s := seedCoverageStore(t)
	mustAdd(t, s, &model.MemoryRecord{
		MemType: model.MemC2U, Subjects: []string{"dimitri", "user_123"},
		FactText:     "Dimitri confided his jealousy in private",
		ChapterStart: 4, Confidence: 0.95,
	}, 4)

	gold := []GoldMemory{
		{ID: "g1", Subjects: []string{"dimitri", "user_123"}, MemType: "C2U"},
	}
	queries := []Query{
		{QID: "denied", Query: "jealousy confided", Chapter: 5, K: 5,
			Viewer: []string{"felix"}, GoldIDs: []string{"g1"}},
		{QID: "granted", Query: "jealousy confided", Chapter: 5, K: 5,
			Viewer: []string{"dimitri", "user_123"}, GoldIDs: []string{"g1"}},
	}

	rep, err := NewRetrievalEvaluator(s).Run(context.Background(), queries, gold)
	require.NoError(t, err)
	require.Len(t, rep.Queries, 2)
	assert.Zero(t, rep.Queries[0].Recall)
	assert.Equal(t, 1.0, rep.Queries[1].Recall)
}

func TestWriteAndReadJSONArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "retrieval_eval_results.json")
	in := RetrievalReport{Overall: RetrievalMetrics{Precision: 0.5, Recall: 1, MRR: 0.75}}
	require.NoError(t, WriteJSON(path, in))

	var out RetrievalReport
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in.Overall, out.Overall)
}

func TestLoadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.jsonl")
	data := `{"qid":"q1","query":"jealous","chapter":4,"gold_ids":["g1"]}

{"qid":"q2","query":"archive","chapter":2,"gold_ids":["g2"]}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	queries, err := LoadJSONL[Query](path)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "q1", queries[0].QID)
	assert.Equal(t, []string{"g2"}, queries[1].GoldIDs)
}

func TestLoadJSONL_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o644))

	_, err := LoadJSONL[Query](path)
	assert.Error(t, err)
}
