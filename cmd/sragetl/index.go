package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/japaniel/sragetl/pkg/corpus"
	"github.com/japaniel/sragetl/pkg/query"
	"github.com/japaniel/sragetl/pkg/retrieval"
)

func newIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the document index used to ground answers",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show document and vocabulary counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withIndex(func(idx *retrieval.Index) error {
				return printJSON(cmd.OutOrStdout(), idx.Status())
			})
		},
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Add the curated reference documents to an empty index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.useIndex(false, func(idx *retrieval.Index) error {
				n, err := corpus.Seed(idx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d document(s); index holds %d.\n", n, idx.Status().Documents)
				return nil
			})
		},
	}

	snippets := &cobra.Command{
		Use:   "snippets YEAR...",
		Short: "Index summaries computed from the stored data of each year",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			years, err := parseYears(args)
			if err != nil {
				return err
			}
			var inputs []retrieval.Input
			err = a.withQuerier(func(q *query.Querier) error {
				for _, y := range years {
					in, err := corpus.Snippets(cmd.Context(), q, y)
					if err != nil {
						return err
					}
					inputs = append(inputs, in...)
				}
				return nil
			})
			if err != nil {
				return err
			}
			return a.addInputs(cmd, inputs)
		},
	}

	var files, urls []string
	var chunk int
	add := &cobra.Command{
		Use:   "add [TEXT]",
		Short: "Index free text, text files or the readable content of web pages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var inputs []retrieval.Input
			client := &http.Client{Timeout: corpus.FetchTimeout}
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				inputs = append(inputs, retrieval.Input{Content: args[0], Metadata: map[string]any{"source": "cli", "type": "text"}})
			}
			for _, path := range files {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				p := &corpus.Page{URL: path, Title: path, Text: string(raw)}
				inputs = append(inputs, p.Inputs(chunk)...)
			}
			for _, u := range urls {
				page, err := corpus.Fetch(cmd.Context(), client, u)
				if err != nil {
					return err
				}
				inputs = append(inputs, page.Inputs(chunk)...)
			}
			if len(inputs) == 0 {
				return fmt.Errorf("nothing to add: pass TEXT, --file or --url")
			}
			return a.addInputs(cmd, inputs)
		},
	}
	add.Flags().StringSliceVar(&files, "file", nil, "Text file to index (repeatable)")
	add.Flags().StringSliceVar(&urls, "url", nil, "Web page to index (repeatable)")
	add.Flags().IntVar(&chunk, "chunk", corpus.DefaultChunkRunes, "Maximum characters per indexed chunk")

	var k int
	search := &cobra.Command{
		Use:   "search QUERY",
		Short: "Most similar documents to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withIndex(func(idx *retrieval.Index) error {
				hits, err := idx.Search(args[0], k)
				if err != nil {
					return err
				}
				if hits == nil {
					hits = []retrieval.Result{}
				}
				return printJSON(cmd.OutOrStdout(), hits)
			})
		},
	}
	search.Flags().IntVarP(&k, "top", "k", retrieval.DefaultK, "Number of documents")

	var full bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List indexed documents in insertion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withIndex(func(idx *retrieval.Index) error {
				out := cmd.OutOrStdout()
				for _, d := range idx.Documents() {
					content := d.Content
					if !full {
						content = preview(content, 72)
					}
					fmt.Fprintf(out, "#%d  %s  %s\n", d.ID, describeMeta(d.Metadata), content)
				}
				return nil
			})
		},
	}
	list.Flags().BoolVar(&full, "full", false, "Print whole document bodies")

	cmd.AddCommand(status, seed, snippets, add, list, search)
	return cmd
}

// withIndex runs fn on the persisted index, seeded as configured, and closes it.
func (a *app) withIndex(fn func(idx *retrieval.Index) error) error {
	return a.useIndex(a.cfg.Retrieval.Seed, fn)
}

func (a *app) useIndex(seed bool, fn func(idx *retrieval.Index) error) error {
	idx, err := a.openIndex(seed)
	if err != nil {
		return err
	}
	if err := fn(idx); err != nil {
		idx.Close()
		return err
	}
	return idx.Close()
}

// describeMeta renders the source, topic and year of a document, when set.
func describeMeta(meta map[string]any) string {
	var parts []string
	for _, k := range []string{"source", "topic", "year"} {
		if v, ok := meta[k]; ok {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "/")
}

// preview flattens whitespace and cuts s to max runes.
func preview(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func (a *app) addInputs(cmd *cobra.Command, inputs []retrieval.Input) error {
	return a.withIndex(func(idx *retrieval.Index) error {
		ids, err := idx.AddBatch(inputs)
		if err != nil {
			return err
		}
		if err := idx.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d document(s); index holds %d.\n", len(ids), idx.Status().Documents)
		return nil
	})
}
