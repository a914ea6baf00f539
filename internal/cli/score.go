package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sekailabs/sekai-memory/internal/eval"
	"github.com/sekailabs/sekai-memory/internal/gate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compare evaluation results against release gates",
		Long: "Read the evaluation artifacts and compare them against the gate " +
			"thresholds. Exits non-zero when any gate fails, for use in CI.",
		Run: runScore,
	}
	cmd.Flags().String("config", "", "Gate config YAML (default: built-in gates)")
	cmd.Flags().StringVar(&resultsDir, "results", "", "Results directory (default: $SEKAI_MEMORY_RESULTS or eval/runs)")
	RootCmd.AddCommand(cmd)
}

func runScore(cmd *cobra.Command, args []string) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg := gate.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = gate.Load(configPath); err != nil {
			exitErr("load gate config", err)
		}
	}

	var (
		retrieval   *eval.RetrievalReport
		consistency *eval.ConsistencyReport
		coverage    *eval.CoverageReport
	)
	loadArtifact(retrievalArtifact, &retrieval)
	loadArtifact(consistencyArtifact, &consistency)
	loadArtifact(coverageArtifact, &coverage)

	verdict := gate.Evaluate(gate.Collect(retrieval, consistency, coverage), cfg)

	if formatFlag == "text" {
		for _, r := range verdict.Results {
			status := "PASS"
			if !r.Passed {
				status = "FAIL"
			}
			fmt.Printf("%-4s %s.%s: %.3f (want %s)\n", status, r.Section, r.Name, r.Actual, r.Expected)
		}
	} else {
		b, _ := json.MarshalIndent(verdict, "", "  ")
		fmt.Println(string(b))
	}

	if !verdict.Passed {
		logger.Error().Strs("failed", verdict.Failed()).Msg("release gates failed")
		os.Exit(1)
	}
	logger.Info().Int("gates", len(verdict.Results)).Msg("all release gates passed")
}

// loadArtifact reads one evaluation artifact if present. A missing artifact
// leaves its section unmeasured, which min gates treat as zero.
func loadArtifact[T any](name string, out **T) {
	path := filepath.Join(getResultsDir(), name)
	var v T
	if err := eval.ReadJSON(path, &v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("artifact", name).Msg("artifact missing, section unmeasured")
			return
		}
		exitErr("read "+name, err)
	}
	*out = &v
}
