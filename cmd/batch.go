package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/leadfoundry/leadgen-cli/internal/pipeline"
)

var (
	batchFile     string
	batchCooldown time.Duration
)

// batchTarget is one wave in the batch file.
type batchTarget struct {
	Query   string `yaml:"query"`
	City    string `yaml:"city"`
	Segment string `yaml:"segment"`
	Limit   int    `yaml:"limit"`
	Deep    bool   `yaml:"deep"`
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run scrape waves from a YAML target file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		targets, err := loadBatchTargets(batchFile)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			zap.L().Info("no targets in batch file")
			return nil
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runBatch(ctx, env.NewPipeline(), targets, batchCooldown)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML file of scrape targets (required)")
	batchCmd.Flags().DurationVar(&batchCooldown, "cooldown", 30*time.Second, "pause between waves")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

func loadBatchTargets(path string) ([]batchTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: read target file")
	}

	var targets []batchTarget
	if err := yaml.Unmarshal(data, &targets); err != nil {
		return nil, eris.Wrap(err, "batch: parse target file")
	}
	for i, t := range targets {
		if t.Query == "" {
			return nil, eris.Errorf("batch: target %d has no query", i)
		}
	}
	return targets, nil
}

// batchRunner is the subset of the pipeline the batch loop needs.
type batchRunner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

// runBatch executes the waves sequentially with a cool-down pause between
// them. A failed wave is logged and does not abort the batch.
func runBatch(ctx context.Context, p batchRunner, targets []batchTarget, cooldown time.Duration) error {
	var succeeded, failed int

	for i, target := range targets {
		if i > 0 {
			zap.L().Info("cooling down before next wave", zap.Duration("pause", cooldown))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cooldown):
			}
		}

		log := zap.L().With(zap.String("query", target.Query), zap.Int("wave", i+1))
		log.Info("starting wave", zap.Int("of", len(targets)))

		result, err := p.Run(ctx, pipeline.Job{
			Query:      target.Query,
			City:       target.City,
			Segment:    target.Segment,
			Limit:      target.Limit,
			Source:     "batch",
			DeepEnrich: target.Deep,
		})
		if err != nil {
			failed++
			log.Error("wave failed", zap.Error(err))
			continue
		}

		succeeded++
		log.Info("wave complete",
			zap.Int("scraped", result.Summary.Scraped),
			zap.Int("new_companies", result.Summary.NewCompanies),
		)
	}

	zap.L().Info("batch complete",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
	)
	return nil
}
