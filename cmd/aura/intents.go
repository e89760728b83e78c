package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nadzzz/aura/internal/intent"
)

var intentsCmd = &cobra.Command{
	Use:   "intents",
	Short: "List the loaded intent table",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := intent.LoadOrDefault(cfg.Pipeline.IntentsFile)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCANONICAL\tSYNONYMS\tSLOTS")
		for _, s := range table.Specs() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Canonical, len(s.Synonyms), slotSummary(s.Slots))
		}
		return w.Flush()
	},
}

func slotSummary(slots []intent.SlotSpec) string {
	if len(slots) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(slots))
	for _, s := range slots {
		p := s.Name + ":" + string(s.Type)
		if s.Required {
			p += "!"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
