package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/etl"
	"github.com/japaniel/sragetl/pkg/extract"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boldStyle = lipgloss.NewStyle().Bold(true)
)

func statusText(s db.Status) string {
	switch s {
	case db.StatusSuccess:
		return okStyle.Render(string(s))
	case db.StatusError:
		return failStyle.Render(string(s))
	default:
		return string(s)
	}
}

func newProcessCmd(a *app) *cobra.Command {
	var all, keepCache, discover bool

	cmd := &cobra.Command{
		Use:   "process [year...]",
		Short: "Download, clean and load yearly SRAG extracts",
		Long: `Process runs extract, parse, transform and load for each year. Without
arguments the years from the config are processed; --all processes every
year with a known source. Failed years are recorded and the batch continues.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			conn, err := a.openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			p := a.newPipeline(conn)
			if keepCache {
				p.KeepCache = true
			}
			if discover {
				found, err := extract.Discover(ctx, nil, extract.DatasetPage)
				if err != nil {
					a.logger.Warn("source discovery failed, using known sources", "err", err)
				} else {
					p.Extractor.Sources = extract.Merge(p.Extractor.Sources, found)
				}
			}

			years, err := parseYears(args)
			if err != nil {
				return err
			}
			switch {
			case all:
				years = extract.Years(p.Extractor.Sources)
			case len(years) == 0:
				years = a.cfg.ETL.Years
			}

			fmt.Fprintf(out, "Processing %d year(s) into %s\n", len(years), a.cfg.Database.Path)
			sum := p.ProcessYears(ctx, years)
			for _, y := range years {
				if err, failed := sum.Errors[y]; failed {
					fmt.Fprintf(out, "  %d  %s  %v\n", y, statusText(db.StatusError), err)
					continue
				}
				run, err := db.GetETLRun(conn, y)
				if err != nil || run == nil {
					fmt.Fprintf(out, "  %d  %s\n", y, statusText(db.StatusSuccess))
					continue
				}
				fmt.Fprintf(out, "  %d  %s  %d/%d records  quality=%.3f  %.2fs\n",
					y, statusText(run.Status), run.ProcessedRecords, run.TotalRecords, run.QualityScore, run.ProcessingSeconds)
			}
			m := etl.Snapshot()
			fmt.Fprintf(out, "Done: %d succeeded, %d failed (%d rows loaded, %d bytes downloaded, %d cache hits)\n",
				len(sum.Succeeded), len(sum.Failed), m.RowsLoaded, m.BytesDownloaded, m.CacheHits)
			if len(sum.Succeeded) == 0 && len(sum.Failed) > 0 {
				return fmt.Errorf("all %d year(s) failed", len(sum.Failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Process every year with a known source")
	cmd.Flags().BoolVar(&keepCache, "keep-cache", false, "Keep downloaded extracts after loading")
	cmd.Flags().BoolVar(&discover, "discover", false, "Look up current extract URLs on the OpenDataSUS dataset page")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored years, data quality and database size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			stats, err := a.newPipeline(conn).DatabaseStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, stats)
			}

			years := make([]int, 0, len(stats.DataQuality))
			for y := range stats.DataQuality {
				years = append(years, y)
			}
			for y := range stats.Years {
				if _, ok := stats.DataQuality[y]; !ok {
					years = append(years, y)
				}
			}
			sort.Ints(years)

			fmt.Fprintln(out, boldStyle.Render("DATASUS SRAG database"))
			fmt.Fprintf(out, "  file: %s (%.2f MB)\n  total records: %d\n", a.cfg.Database.Path, stats.DatabaseSizeMB, stats.TotalRecords)
			if len(years) == 0 {
				fmt.Fprintln(out, "  no years processed yet")
				return nil
			}
			for _, y := range years {
				ys := stats.Years[y]
				q, ok := stats.DataQuality[y]
				status := "-"
				if ok {
					status = statusText(q.Status)
				}
				fmt.Fprintf(out, "  %d  %-8s records=%-8d quality=%.3f  %s .. %s\n", y, status, ys.Records, q.Score, ys.MinDate, ys.MaxDate)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newSourcesCmd(a *app) *cobra.Command {
	var discover bool
	var page string
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the extract URL of each year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := extract.Merge(extract.DefaultSources, a.cfg.ETL.Sources)
			if discover {
				found, err := extract.Discover(cmd.Context(), nil, page)
				if err != nil {
					return err
				}
				sources = extract.Merge(sources, found)
			}
			out := cmd.OutOrStdout()
			for _, y := range extract.Years(sources) {
				fmt.Fprintf(out, "%d  %s\n", y, sources[y])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&discover, "discover", false, "Merge links found on the dataset page")
	cmd.Flags().StringVar(&page, "page", extract.DatasetPage, "Dataset page scanned by --discover")
	return cmd
}
