package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekailabs/sekai-memory/internal/config"
	"github.com/sekailabs/sekai-memory/internal/eval"
	"github.com/sekailabs/sekai-memory/internal/extract"
	"github.com/sekailabs/sekai-memory/internal/model"
	"github.com/sekailabs/sekai-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest memory records or extract them from chapters",
		Long: "Ingest records from a JSONL file, or extract them from a chapters " +
			"file with an LLM (--extract). Records are upserted chapter by chapter.",
		Run: runIngest,
	}

	cmd.Flags().String("records", "", "JSONL file of memory records")
	cmd.Flags().String("chapters", "", "JSON file of chapters to extract from")
	cmd.Flags().Bool("extract", false, "Extract facts from --chapters via the configured LLM")
	cmd.Flags().String("registry", "", "Entity registry JSON (default: built-in)")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	recordsPath, _ := cmd.Flags().GetString("records")
	chaptersPath, _ := cmd.Flags().GetString("chapters")
	doExtract, _ := cmd.Flags().GetBool("extract")
	registryPath, _ := cmd.Flags().GetString("registry")

	registry := config.DefaultRegistry()
	if registryPath != "" {
		var err error
		if registry, err = config.LoadRegistry(registryPath); err != nil {
			exitErr("load registry", err)
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	counts := map[store.AddOutcome]int{}
	switch {
	case doExtract:
		if chaptersPath == "" {
			exitErr("ingest", fmt.Errorf("--extract requires --chapters"))
		}
		ingestChapters(cmd, s, registry, chaptersPath, counts)
	case recordsPath != "":
		ingestRecords(cmd, s, recordsPath, counts)
	default:
		exitErr("ingest", fmt.Errorf("either --records or --chapters with --extract is required"))
	}
	saveStore(cmd, s)

	b, _ := json.MarshalIndent(counts, "", "  ")
	fmt.Println(string(b))
}

func ingestRecords(cmd *cobra.Command, s store.Store, path string, counts map[store.AddOutcome]int) {
	records, err := eval.LoadJSONL[model.MemoryRecord](path)
	if err != nil {
		exitErr("load records", err)
	}
	for i := range records {
		rec := &records[i]
		chapter := rec.Provenance.Chapter
		if chapter == 0 {
			chapter = rec.ChapterStart
		}
		_, outcome, err := s.Add(cmd.Context(), rec, chapter)
		if err != nil {
			exitErr(fmt.Sprintf("ingest record %d", i+1), err)
		}
		counts[outcome]++
	}
	logger.Info().Int("records", len(records)).Msg("ingest complete")
}

func ingestChapters(cmd *cobra.Command, s store.Store, registry *config.Registry, path string, counts map[store.AddOutcome]int) {
	chapters, err := extract.LoadChapters(path)
	if err != nil {
		exitErr("load chapters", err)
	}
	extractor, err := extract.NewLLMExtractor(runtime, registry, config.DefaultVocabulary())
	if err != nil {
		exitErr("ingest", err)
	}
	for _, ch := range chapters {
		records, err := extractor.Extract(cmd.Context(), ch)
		if err != nil {
			exitErr(fmt.Sprintf("extract chapter %d", ch.Chapter), err)
		}
		for _, rec := range records {
			_, outcome, err := s.Add(cmd.Context(), rec, ch.Chapter)
			if err != nil {
				logger.Warn().Err(err).Int("chapter", ch.Chapter).Msg("skipping invalid extraction")
				continue
			}
			counts[outcome]++
		}
		logger.Info().Int("chapter", ch.Chapter).Int("facts", len(records)).Msg("chapter extracted")
	}
}
