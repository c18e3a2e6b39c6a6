package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/japaniel/sragetl/pkg/retrieval"
	"github.com/japaniel/sragetl/pkg/tui"
)

func newAskCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer a question from the document index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return a.withIndex(func(idx *retrieval.Index) error {
				reply, err := a.newAssistant(idx).Ask(cmd.Context(), question)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, reply)
				}
				fmt.Fprintln(out, reply.Answer.Answer)
				if len(reply.Sources) > 0 {
					fmt.Fprintf(out, "\nconfiança: %.3f\n", reply.Confidence)
					for _, s := range reply.Sources {
						fmt.Fprintf(out, "  fonte #%d %v (similaridade %.3f)\n", s.ID, s.Metadata["topic"], s.Similarity)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal chat over the document index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withIndex(func(idx *retrieval.Index) error {
				st := idx.Status()
				mode := "respostas a partir dos documentos"
				if a.cfg.ChatEnabled() {
					mode = "modelo " + a.cfg.Chat.Model
				}
				summary := fmt.Sprintf("%d documentos indexados, %s", st.Documents, mode)
				m := tui.New(a.newAssistant(idx), summary)
				_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
				return err
			})
		},
	}
}
