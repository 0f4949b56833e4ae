package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leadfoundry/leadgen-cli/internal/datasync"
	"github.com/leadfoundry/leadgen-cli/internal/pipeline"
	"github.com/leadfoundry/leadgen-cli/internal/store"
)

var (
	syncSource      string
	syncSegments    []string
	syncState       string
	syncArchives    []string
	syncMaxArchives int
	syncSampleLimit int
)

var datasyncCmd = &cobra.Command{
	Use:   "datasync",
	Short: "Import companies from the federal registry open-data drops",
	Long:  "Downloads the Receita Federal establishment files, filters them by CNAE segment and state, and imports active companies. With --source live, a small sample is fetched through the registry API instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		source, err := datasync.ParseSource(syncSource)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return eris.New("datasync requires the postgres store driver")
		}

		var sampler datasync.Sampler
		if source == datasync.SourceLive {
			env, err := initPipeline(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			sampler = &liveSampler{pipeline: env.NewPipeline()}
		}

		syncer := datasync.New(ps.Pool(), cfg.Datasync.BaseURL, cfg.Datasync.DataDir)
		return syncer.Run(ctx, datasync.Options{
			Source:      source,
			Segments:    syncSegments,
			State:       syncState,
			Archives:    syncArchives,
			MaxArchives: syncMaxArchives,
			SampleLimit: syncSampleLimit,
		}, sampler)
	},
}

func init() {
	datasyncCmd.Flags().StringVar(&syncSource, "source", "bulk", "data source variant: bulk or live")
	datasyncCmd.Flags().StringSliceVar(&syncSegments, "segments", nil, "market segments to import (default all: "+strings.Join(datasync.SegmentNames(), ", ")+")")
	datasyncCmd.Flags().StringVar(&syncState, "uf", "", "two-letter state filter (empty = all)")
	datasyncCmd.Flags().StringSliceVar(&syncArchives, "archives", nil, "explicit archive URLs, skipping index discovery")
	datasyncCmd.Flags().IntVar(&syncMaxArchives, "max-archives", 1, "max establishment archives to process")
	datasyncCmd.Flags().IntVar(&syncSampleLimit, "sample-limit", 5, "companies per segment in live mode")
	rootCmd.AddCommand(datasyncCmd)
}

// liveSampler fetches a live sample by running the scrape pipeline with
// deep registry enrichment for the segment.
type liveSampler struct {
	pipeline *pipeline.Pipeline
}

func (s *liveSampler) Sample(ctx context.Context, segment, state string, limit int) (int64, error) {
	query := segment
	if state != "" {
		query += " " + state
	}

	result, err := s.pipeline.Run(ctx, pipeline.Job{
		Query:      query,
		City:       state,
		Segment:    segment,
		Limit:      limit,
		Source:     "receitaws-live",
		DeepEnrich: true,
	})
	if err != nil {
		return 0, err
	}
	return int64(result.Summary.NewCompanies), nil
}
