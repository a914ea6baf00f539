package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sekailabs/sekai-memory/internal/config"
	"github.com/sekailabs/sekai-memory/internal/eval"
	"github.com/sekailabs/sekai-memory/internal/store"
)

// Artifact file names, shared with the score command.
const (
	retrievalArtifact   = "retrieval_eval_results.json"
	consistencyArtifact = "consistency_eval_results.json"
	coverageArtifact    = "coverage_eval_results.json"
)

var resultsDir string

func init() {
	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Run evaluation suites against the store",
	}
	evalCmd.PersistentFlags().StringVar(&resultsDir, "results", "", "Results directory (default: $SEKAI_MEMORY_RESULTS or eval/runs)")

	retrieval := &cobra.Command{
		Use:   "retrieval",
		Short: "Measure retrieval precision, recall and MRR on labeled queries",
		Run:   runEvalRetrieval,
	}
	retrieval.Flags().String("queries", "", "Labeled queries JSONL (required)")
	retrieval.Flags().String("gold", "", "Gold memories JSONL (required)")
	retrieval.MarkFlagRequired("queries")
	retrieval.MarkFlagRequired("gold")

	consistency := &cobra.Command{
		Use:   "consistency",
		Short: "Audit the store for contradictions, leaks and asymmetries",
		Run:   runEvalConsistency,
	}
	consistency.Flags().Bool("with-traces", false, "Also audit the deliveries of the last retrieval run")
	consistency.Flags().Int("symmetry-tolerance", eval.DefaultSymmetryTolerance, "Chapter window for symmetric counterparts")
	consistency.Flags().String("registry", "", "Entity registry JSON (default: built-in)")
	consistency.Flags().String("vocabulary", "", "Predicate vocabulary JSON (default: built-in)")

	coverage := &cobra.Command{
		Use:   "coverage",
		Short: "Score the store against gold key facts",
		Run:   runEvalCoverage,
	}
	coverage.Flags().String("facts", "", "Gold key facts JSONL, one chapter per line (required)")
	coverage.Flags().Float64("threshold", eval.DefaultSimilarityThreshold, "Fact text similarity threshold")
	coverage.MarkFlagRequired("facts")

	evalCmd.AddCommand(retrieval, consistency, coverage)
	RootCmd.AddCommand(evalCmd)
}

func getResultsDir() string {
	if resultsDir != "" {
		return resultsDir
	}
	return runtime.ResultsDir
}

func openStoreForEval() store.Store {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	return s
}

func writeArtifact(name string, v any) {
	path := filepath.Join(getResultsDir(), name)
	if err := eval.WriteJSON(path, v); err != nil {
		exitErr("write results", err)
	}
	fmt.Println(path)
}

func runEvalRetrieval(cmd *cobra.Command, args []string) {
	queriesPath, _ := cmd.Flags().GetString("queries")
	goldPath, _ := cmd.Flags().GetString("gold")

	queries, err := eval.LoadJSONL[eval.Query](queriesPath)
	if err != nil {
		exitErr("load queries", err)
	}
	gold, err := eval.LoadJSONL[eval.GoldMemory](goldPath)
	if err != nil {
		exitErr("load gold memories", err)
	}

	s := openStoreForEval()
	defer s.Close()

	rep, err := eval.NewRetrievalEvaluator(s).Run(cmd.Context(), queries, gold)
	if err != nil {
		exitErr("retrieval eval", err)
	}
	logger.Info().
		Float64("precision", rep.Overall.Precision).
		Float64("recall", rep.Overall.Recall).
		Float64("mrr", rep.Overall.MRR).
		Int("queries", len(rep.Queries)).
		Msg("retrieval eval complete")
	writeArtifact(retrievalArtifact, rep)
}

func runEvalConsistency(cmd *cobra.Command, args []string) {
	withTraces, _ := cmd.Flags().GetBool("with-traces")
	tolerance, _ := cmd.Flags().GetInt("symmetry-tolerance")
	registryPath, _ := cmd.Flags().GetString("registry")
	vocabPath, _ := cmd.Flags().GetString("vocabulary")

	opts := eval.CheckerOptions{
		Registry:          config.DefaultRegistry(),
		Vocabulary:        config.DefaultVocabulary(),
		SymmetryTolerance: tolerance,
	}
	var err error
	if registryPath != "" {
		if opts.Registry, err = config.LoadRegistry(registryPath); err != nil {
			exitErr("load registry", err)
		}
	}
	if vocabPath != "" {
		if opts.Vocabulary, err = config.LoadVocabulary(vocabPath); err != nil {
			exitErr("load vocabulary", err)
		}
	}
	if withTraces {
		var prev eval.RetrievalReport
		path := filepath.Join(getResultsDir(), retrievalArtifact)
		if err := eval.ReadJSON(path, &prev); err != nil {
			exitErr("load retrieval traces", err)
		}
		opts.Traces = prev.Traces
	}

	s := openStoreForEval()
	defer s.Close()

	rep, err := eval.NewChecker(s, opts).Run(cmd.Context())
	if err != nil {
		exitErr("consistency eval", err)
	}
	logger.Info().Int("conflicts", rep.Summary.TotalConflicts).Msg("consistency eval complete")
	writeArtifact(consistencyArtifact, rep)
}

func runEvalCoverage(cmd *cobra.Command, args []string) {
	factsPath, _ := cmd.Flags().GetString("facts")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	gold, err := eval.LoadJSONL[eval.ChapterFacts](factsPath)
	if err != nil {
		exitErr("load key facts", err)
	}

	s := openStoreForEval()
	defer s.Close()

	rep, err := eval.NewCoverageScorer(s, threshold).Score(cmd.Context(), gold)
	if err != nil {
		exitErr("coverage eval", err)
	}
	logger.Info().Float64("overall", rep.Overall).Msg("coverage eval complete")
	writeArtifact(coverageArtifact, rep)
}
