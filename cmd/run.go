package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadfoundry/leadgen-cli/internal/export"
	"github.com/leadfoundry/leadgen-cli/internal/pipeline"
)

var (
	runQuery        string
	runCity         string
	runSegment      string
	runLimit        int
	runDeep         bool
	runSkipClassify bool
	runOut          string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape and enrich leads for a single query",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.NewPipeline().Run(ctx, pipeline.Job{
			Query:              runQuery,
			City:               runCity,
			Segment:            runSegment,
			Limit:              runLimit,
			Source:             "feed",
			SkipClassification: runSkipClassify,
			DeepEnrich:         runDeep,
		})
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("query", runQuery),
			zap.Int("scraped", result.Summary.Scraped),
			zap.Int("new_companies", result.Summary.NewCompanies),
		)

		if runOut != "" {
			if err := export.Write(runOut, result.Leads); err != nil {
				return eris.Wrap(err, "export leads")
			}
			zap.L().Info("leads exported", zap.String("path", runOut))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runQuery, "query", "", "listing search query (required)")
	runCmd.Flags().StringVar(&runCity, "city", "", "city used for registry lookups")
	runCmd.Flags().StringVar(&runSegment, "segment", "", "market segment stamped on created companies")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max leads to collect (0 = until exhausted)")
	runCmd.Flags().BoolVar(&runDeep, "deep", false, "resolve registry records and website contacts")
	runCmd.Flags().BoolVar(&runSkipClassify, "skip-classify", false, "skip AI sector classification")
	runCmd.Flags().StringVar(&runOut, "out", "", "export leads to .csv or .xlsx")
	_ = runCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(runCmd)
}
