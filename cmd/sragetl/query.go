package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/japaniel/sragetl/pkg/query"
)

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Aggregate epidemiological queries over the stored data (JSON output)",
	}

	// yearCmd builds a subcommand taking one YEAR argument and printing fn's result.
	yearCmd := func(use, short string, fn func(ctx context.Context, q *query.Querier, year int) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " YEAR",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				year, err := parseYear(args[0])
				if err != nil {
					return err
				}
				return a.withQuerier(func(q *query.Querier) error {
					v, err := fn(cmd.Context(), q, year)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), v)
				})
			},
		}
	}

	var granularity string
	trends := yearCmd("trends", "Case, death and ICU counts per time bucket", func(ctx context.Context, q *query.Querier, year int) (any, error) {
		g, err := query.ParseGranularity(granularity)
		if err != nil {
			return nil, err
		}
		return q.TemporalTrends(ctx, year, g)
	})
	trends.Flags().StringVarP(&granularity, "granularity", "g", string(query.Month), "day, week or month")

	var byState bool
	vaccination := yearCmd("vaccination", "Cases by vaccination status", func(ctx context.Context, q *query.Querier, year int) (any, error) {
		return q.VaccinationBreakdown(ctx, year, byState)
	})
	vaccination.Flags().BoolVar(&byState, "by-state", false, "Break down per state")

	report := yearCmd("report", "Vaccination coverage report in Portuguese", func(ctx context.Context, q *query.Querier, year int) (any, error) {
		return q.VaccinationReport(ctx, year)
	})
	report.RunE = func(cmd *cobra.Command, args []string) error {
		year, err := parseYear(args[0])
		if err != nil {
			return err
		}
		return a.withQuerier(func(q *query.Querier) error {
			text, err := q.VaccinationReport(cmd.Context(), year)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	}

	var searchYear int
	search := &cobra.Command{
		Use:   "search TEXT",
		Short: "Records matching the keywords of a free-text question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withQuerier(func(q *query.Querier) error {
				recs, f, err := q.Search(cmd.Context(), args[0], searchYear)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d record(s) (years=%v states=%v)\n", len(recs), f.Years, f.States)
				for _, r := range recs {
					fmt.Fprintf(out, "%s  %-2s  %-9s  idade=%-4s  %s\n",
						r.NotificationDate.Format("2006-01-02"), r.State.String, r.SexDesc.String,
						fmtNullInt(r.Age.Valid, r.Age.Int64), r.OutcomeDesc.String)
				}
				return nil
			})
		},
	}
	search.Flags().IntVar(&searchYear, "year", 0, "Restrict to one year")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "years",
			Short: "Years with stored records",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withQuerier(func(q *query.Querier) error {
					years, err := q.YearsAvailable(cmd.Context())
					if err != nil {
						return err
					}
					if years == nil {
						years = []int{}
					}
					return printJSON(cmd.OutOrStdout(), years)
				})
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Database summary with the status of each year",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withQuerier(func(q *query.Querier) error {
					info, err := q.Info(cmd.Context())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), info)
				})
			},
		},
		yearCmd("availability", "Whether a year is loaded", func(ctx context.Context, q *query.Querier, year int) (any, error) {
			return q.Availability(ctx, year)
		}),
		yearCmd("indicators", "Total cases, deaths, ICU and vaccinated cases with rates", func(ctx context.Context, q *query.Querier, year int) (any, error) {
			return q.ClinicalIndicators(ctx, year)
		}),
		yearCmd("demographics", "Cases by sex, age band and region", func(ctx context.Context, q *query.Querier, year int) (any, error) {
			return q.DemographicBreakdown(ctx, year)
		}),
		yearCmd("ranking", "State vaccination ranking, lowest coverage first", func(ctx context.Context, q *query.Querier, year int) (any, error) {
			return q.StateVaccinationRanking(ctx, year)
		}),
		yearCmd("mortality", "Death rate per state, highest first", func(ctx context.Context, q *query.Querier, year int) (any, error) {
			return q.MortalityByState(ctx, year)
		}),
		trends,
		vaccination,
		report,
		search,
	)
	return cmd
}

func (a *app) withQuerier(fn func(q *query.Querier) error) error {
	conn, err := a.openDB()
	if err != nil {
		return err
	}
	defer conn.Close()
	q := query.New(conn)
	q.Logger = a.logger
	return fn(q)
}

func fmtNullInt(valid bool, v int64) string {
	if !valid {
		return "-"
	}
	return fmt.Sprint(v)
}
