package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/pipeline"
)

var (
	interpretSession string
	interpretJSON    bool
)

var interpretCmd = &cobra.Command{
	Use:   "interpret [text...]",
	Short: "Interpret transcripts from the command line",
	Long: `Run a transcript through the pipeline and print the feedback.

With no arguments, each line of stdin is one turn in the same session, so
references such as "open it" resolve against earlier lines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		out := cmd.OutOrStdout()
		if len(args) > 0 {
			return interpretTurn(cmd.Context(), a, out, strings.Join(args, " "))
		}
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if strings.TrimSpace(sc.Text()) == "" {
				continue
			}
			if err := interpretTurn(cmd.Context(), a, out, sc.Text()); err != nil {
				return err
			}
		}
		return sc.Err()
	},
}

func init() {
	interpretCmd.Flags().StringVarP(&interpretSession, "session", "s", message.DefaultSession, "session id that scopes conversational context")
	interpretCmd.Flags().BoolVar(&interpretJSON, "json", false, "print the full dispatch result as JSON")
}

func interpretTurn(ctx context.Context, a *app, out io.Writer, text string) error {
	res, err := a.pipeline.Handle(ctx, &message.Message{
		SessionID: interpretSession,
		Source:    "cli",
		Text:      text,
	})
	if err != nil {
		return err
	}
	if interpretJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprint(out, pipeline.Describe(res))
	return err
}
