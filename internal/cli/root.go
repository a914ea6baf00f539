// Package cli implements the sekai-memory CLI commands.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sekailabs/sekai-memory/internal/config"
	"github.com/sekailabs/sekai-memory/internal/store"
)

var (
	storePath  string
	formatFlag string
	debugFlag  bool

	runtime *config.Runtime
	logger  zerolog.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "sekai-memory",
	Short: "Temporal narrative memory with versioning and evaluation",
	Long: "A chapter-indexed memory store for story worlds: versioned facts, " +
		"visibility-scoped retrieval, and consistency/coverage evaluation with release gates.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		runtime, err = config.LoadRuntime()
		if err != nil {
			exitErr("load configuration", err)
		}
		level := zerolog.InfoLevel
		if debugFlag || runtime.Debug {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&storePath, "store", "s", "", "Store path (default: $SEKAI_MEMORY_STORE or memories.jsonl)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

func getStorePath() string {
	if storePath != "" {
		return storePath
	}
	return runtime.StorePath
}

// openStore picks the backend by extension: .db/.sqlite files open the SQLite
// store, everything else the JSONL temporal store.
func openStore() (store.Store, error) {
	path := getStorePath()
	if strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite") {
		return store.NewSQLiteStore(path)
	}
	return store.NewTemporalStore(path)
}

// saveStore persists mutation results for backends that buffer in memory.
func saveStore(cmd *cobra.Command, s store.Store) {
	if ts, ok := s.(*store.TemporalStore); ok {
		if err := ts.Save(cmd.Context()); err != nil {
			exitErr("save store", err)
		}
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
