package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "sragetl",
		Short: "DATASUS SRAG ETL, epidemiological queries and document retrieval",
		Long: `sragetl downloads the yearly SRAG extracts published by DATASUS, loads them
into a local SQLite database, answers aggregate epidemiological queries and
keeps a small TF-IDF document index used to ground chat answers.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Path to YAML config file (default ./config.yaml or $SRAG_CONFIG)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "Path to SQLite database (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newProcessCmd(a),
		newStatsCmd(a),
		newSourcesCmd(a),
		newQueryCmd(a),
		newIndexCmd(a),
		newAskCmd(a),
		newChatCmd(a),
	)
	return root
}
