package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	timeline := &cobra.Command{
		Use:   "timeline [canonical-key]",
		Short: "Show every version of a fact",
		Long:  "List all versions sharing a canonical key, oldest first, with their chapter windows.",
		Args:  cobra.ExactArgs(1),
		Run:   runTimeline,
	}
	RootCmd.AddCommand(timeline)

	evolution := &cobra.Command{
		Use:   "evolution [record-id]",
		Short: "Walk a record's supersession chain",
		Args:  cobra.ExactArgs(1),
		Run:   runEvolution,
	}
	RootCmd.AddCommand(evolution)
}

func runTimeline(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.Timeline(cmd.Context(), args[0])
	if err != nil {
		exitErr("timeline", err)
	}
	printRecords(records)
}

func runEvolution(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.Evolution(cmd.Context(), args[0])
	if err != nil {
		exitErr("evolution", err)
	}
	printRecords(records)
}

func printRecords(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
