package cli

import (
	"github.com/spf13/cobra"

	"github.com/sekailabs/sekai-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Long:  "Show store totals, or a per-chapter summary with --chapter.",
		Run:   runStats,
	}
	cmd.Flags().IntP("chapter", "c", 0, "Summarize the memories known at this chapter")
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	chapter, _ := cmd.Flags().GetInt("chapter")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if chapter > 0 {
		recs, err := s.MemoriesAt(cmd.Context(), chapter)
		if err != nil {
			exitErr("stats", err)
		}
		printRecords(store.Summarize(chapter, recs))
		return
	}

	total, err := s.Total(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	chapters, err := s.Chapters(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printRecords(struct {
		Total    int    `json:"total"`
		Chapters []int  `json:"chapters"`
		Store    string `json:"store"`
	}{total, chapters, getStorePath()})
}
