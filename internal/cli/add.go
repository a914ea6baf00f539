package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sekailabs/sekai-memory/internal/config"
	"github.com/sekailabs/sekai-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [fact text]",
		Short: "Add a memory record",
		Long: "Add a memory record at a chapter. Identical content is a no-op; " +
			"changed content supersedes the active version and keeps the history.",
		Run: runAdd,
	}

	cmd.Flags().StringP("type", "t", "", "Memory type: C2U, IC or WM (required)")
	cmd.Flags().String("subjects", "", "Comma-separated subject ids (required)")
	cmd.Flags().IntP("chapter", "c", 0, "Chapter the fact is established at (required)")
	cmd.Flags().StringP("predicate", "p", "", "Structured predicate")
	cmd.Flags().StringP("object", "o", "", "Structured object")
	cmd.Flags().Float64("confidence", 0.8, "Confidence in [0,1]")
	cmd.Flags().String("visibility", "", "Visibility: private, shared or world (default per type)")
	cmd.Flags().String("reason", "", "Update reason when superseding")

	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("subjects")
	cmd.MarkFlagRequired("chapter")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	subjectsStr, _ := cmd.Flags().GetString("subjects")
	chapter, _ := cmd.Flags().GetInt("chapter")
	predicate, _ := cmd.Flags().GetString("predicate")
	object, _ := cmd.Flags().GetString("object")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	visibility, _ := cmd.Flags().GetString("visibility")
	reason, _ := cmd.Flags().GetString("reason")

	fact := strings.TrimSpace(strings.Join(args, " "))
	if fact == "" {
		exitErr("add", fmt.Errorf("fact text is required"))
	}

	registry := config.DefaultRegistry()
	var subjects []string
	for _, s := range strings.Split(subjectsStr, ",") {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, registry.Normalize(s))
		}
	}

	rec := &model.MemoryRecord{
		MemType:      model.MemType(strings.ToUpper(memType)),
		Subjects:     subjects,
		Predicate:    predicate,
		Object:       object,
		FactText:     fact,
		Confidence:   confidence,
		Visibility:   model.Visibility(visibility),
		UpdateReason: reason,
		Provenance:   model.Provenance{Source: "cli"},
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stored, outcome, err := s.Add(cmd.Context(), rec, chapter)
	if err != nil {
		exitErr("add", err)
	}
	saveStore(cmd, s)

	logger.Debug().Str("id", stored.ID).Str("outcome", string(outcome)).Msg("record added")

	out := struct {
		Outcome string              `json:"outcome"`
		Record  *model.MemoryRecord `json:"record"`
	}{string(outcome), stored}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
