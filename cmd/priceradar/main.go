package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "priceradar",
		Short: "Track second-hand market prices per keyword over time",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(scrapeCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(keywordsCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func scrapeCmd() *cobra.Command {
	var (
		limit      int
		orderBy    string
		filterMode string
		keepNoise  bool
		minPrice   float64
		maxPrice   float64
	)

	cmd := &cobra.Command{
		Use:   "scrape <keyword>",
		Short: "Scrape a keyword once and store the run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(args[0], limit, orderBy, filterMode, !keepNoise, minPrice, maxPrice)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max listings to fetch (default: from config)")
	cmd.Flags().StringVar(&orderBy, "order", "", "sort order (most_relevance, price_low_to_high, price_high_to_low, newest)")
	cmd.Flags().StringVar(&filterMode, "filter", "", "filter mode (soft, strict, off)")
	cmd.Flags().BoolVar(&keepNoise, "keep-noise", false, "keep listings flagged by the text filter")
	cmd.Flags().Float64Var(&minPrice, "min-price", 0, "minimum price sent to the marketplace")
	cmd.Flags().Float64Var(&maxPrice, "max-price", 0, "maximum price sent to the marketplace")
	return cmd
}

func statsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats <keyword>",
		Short: "Show the latest stored statistics for a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func keywordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keywords",
		Short: "List tracked keywords",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeywords()
		},
	}
}

func runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <keyword>",
		Short: "List stored runs for a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(args[0])
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with daily scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
