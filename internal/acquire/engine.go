// Package acquire pulls business listings out of an infinite-scroll result
// feed. The Engine owns the loop invariants (dedup, stale detection, limit);
// the Feed interface hides how the feed is rendered.
package acquire

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadfoundry/leadgen-cli/internal/model"
)

// Card is one rendered listing card.
type Card struct {
	Name      string
	DetailURL string
}

// Feed is an open scrollable listing feed. Cards returns every card
// currently rendered, not just new ones; the feed grows as Scroll is called.
type Feed interface {
	Open(ctx context.Context, query string) error
	Cards(ctx context.Context) ([]Card, error)
	Scroll(ctx context.Context, deltaPx int) error
	Close() error
}

// Options tune the acquisition loop.
type Options struct {
	// StaleThreshold aborts after this many consecutive rounds with no
	// new cards rendered.
	StaleThreshold int

	// ScrollDelta is the pixel distance passed to each Scroll.
	ScrollDelta int

	// MinDelay and MaxDelay bound the randomized pause between scrolls.
	MinDelay time.Duration
	MaxDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 5
	}
	if o.ScrollDelta <= 0 {
		o.ScrollDelta = 2000
	}
	if o.MinDelay <= 0 {
		o.MinDelay = time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = 2 * o.MinDelay
	}
	return o
}

// Engine collects listings from a Feed.
type Engine struct {
	feed Feed
	opts Options
}

// NewEngine creates an Engine over the given feed.
func NewEngine(feed Feed, opts Options) *Engine {
	return &Engine{feed: feed, opts: opts.withDefaults()}
}

// Acquire scrolls the feed for the query until limit distinct names are
// collected or the feed stops yielding new cards. Names dedup on first
// occurrence. A feed fault mid-loop ends the run with whatever was
// collected; only a failure to open the feed is an error.
func (e *Engine) Acquire(ctx context.Context, query string, limit int) ([]model.Lead, error) {
	if err := e.feed.Open(ctx, query); err != nil {
		return nil, eris.Wrapf(err, "acquire: open feed for %q", query)
	}
	defer e.feed.Close() //nolint:errcheck

	seen := make(map[string]struct{})
	var leads []model.Lead
	stale := 0
	lastCount := 0

	for {
		if err := ctx.Err(); err != nil {
			return leads, nil
		}

		cards, err := e.feed.Cards(ctx)
		if err != nil {
			zap.L().Warn("feed read failed, keeping partial results",
				zap.String("query", query),
				zap.Int("collected", len(leads)),
				zap.Error(err),
			)
			return leads, nil
		}

		for _, card := range cards {
			if card.Name == "" {
				continue
			}
			if _, ok := seen[card.Name]; ok {
				continue
			}
			seen[card.Name] = struct{}{}
			leads = append(leads, model.Lead{
				Name:      card.Name,
				SourceURL: card.DetailURL,
			})
			if limit > 0 && len(leads) >= limit {
				return leads, nil
			}
		}

		if len(cards) == lastCount {
			stale++
			if stale >= e.opts.StaleThreshold {
				zap.L().Info("feed exhausted",
					zap.String("query", query),
					zap.Int("collected", len(leads)),
				)
				return leads, nil
			}
		} else {
			stale = 0
			lastCount = len(cards)
		}

		if err := e.feed.Scroll(ctx, e.opts.ScrollDelta); err != nil {
			zap.L().Warn("feed scroll failed, keeping partial results",
				zap.String("query", query),
				zap.Error(err),
			)
			return leads, nil
		}
		if err := sleepJitter(ctx, e.opts.MinDelay, e.opts.MaxDelay); err != nil {
			return leads, nil
		}
	}
}

// sleepJitter pauses for a random duration in [min, max] to pace scrolls
// like a human reader would.
func sleepJitter(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int64N(int64(max - min)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
