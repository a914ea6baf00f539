package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sekailabs/sekai-memory/internal/model"
	"github.com/sekailabs/sekai-memory/internal/policy"
	"github.com/sekailabs/sekai-memory/internal/retrieve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query [query text]",
		Short: "Query memories visible at a chapter",
		Long: "Rank the memories a viewer can see at a chapter. Results respect " +
			"chapter windows and the visibility policy; private knowledge never leaks.",
		Run: runQuery,
	}

	cmd.Flags().IntP("chapter", "c", 0, "Chapter to query at (required)")
	cmd.Flags().String("viewer", "", "Comma-separated viewer participants")
	cmd.Flags().String("character", "", "Restrict to memories involving this character")
	cmd.Flags().StringP("type", "t", "", "Restrict to one memory type")
	cmd.Flags().IntP("top", "k", 10, "Maximum results")

	cmd.MarkFlagRequired("chapter")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	chapter, _ := cmd.Flags().GetInt("chapter")
	viewerStr, _ := cmd.Flags().GetString("viewer")
	character, _ := cmd.Flags().GetString("character")
	memType, _ := cmd.Flags().GetString("type")
	k, _ := cmd.Flags().GetInt("top")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	r := retrieve.New(s, retrieve.DefaultWeights())
	viewer := policy.ViewerContext{Participants: splitList(viewerStr), Chapter: chapter}
	query := strings.Join(args, " ")

	var results []retrieve.Result
	switch {
	case character != "":
		results, err = r.ByCharacterAtChapter(cmd.Context(), character, chapter, k)
	case memType != "":
		results, err = r.ByTypeAtChapter(cmd.Context(), model.MemType(strings.ToUpper(memType)), viewer, chapter, k)
	default:
		results, err = r.SearchAtChapter(cmd.Context(), query, viewer, chapter, k)
	}
	if err != nil {
		exitErr("query", err)
	}

	if formatFlag == "text" {
		for _, res := range results {
			fmt.Printf("%.3f  ch%-3d %-4s %-30s %s\n",
				res.Score, res.Record.ChapterStart, res.Record.MemType,
				strings.Join(res.Record.Subjects, ","), res.Record.FactText)
		}
		return
	}
	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
