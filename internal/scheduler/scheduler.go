// Package scheduler drives the recurring daily scrape: it owns the installed
// schedule, catches up a missed day on startup, and fires the configured
// keywords once per local day at the scheduled time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jortega/priceradar/internal/pipeline"
	"github.com/jortega/priceradar/internal/store"
)

// maxParallel bounds concurrent keyword runs during a sweep. The scraper is
// the bottleneck; a small fan-out keeps it polite.
const maxParallel = 3

var timeOfDayRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Runner is the slice of the pipeline the scheduler needs.
type Runner interface {
	Run(ctx context.Context, req Request) (*pipeline.Result, error)
}

// Request re-exports the pipeline request so fakes in tests do not need the
// pipeline package.
type Request = pipeline.Request

// Controller manages the installed schedule and executes daily sweeps. A
// sweep attempts every configured keyword; one keyword failing never blocks
// the rest, and a failed keyword is retried on the next opportunity because
// only a stored run marks its day as done.
type Controller struct {
	store  store.Store
	runner Runner
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Controller.
func New(st store.Store, runner Runner, log zerolog.Logger) *Controller {
	return &Controller{
		store:  st,
		runner: runner,
		log:    log.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// ValidateTime checks a 24h HH:MM wall-clock time.
func ValidateTime(hhmm string) error {
	if !timeOfDayRe.MatchString(hhmm) {
		return fmt.Errorf("invalid schedule time %q, want HH:MM", hhmm)
	}
	return nil
}

// Install records the daily trigger at the given wall-clock time. Installing
// over an existing schedule replaces its time.
func (c *Controller) Install(ctx context.Context, hhmm string) error {
	if err := ValidateTime(hhmm); err != nil {
		return err
	}
	st := store.ScheduleState{ScheduleTime: hhmm, TaskInstalled: true}
	if err := c.store.SetScheduleState(ctx, st); err != nil {
		return err
	}
	c.log.Info().Str("at", hhmm).Msg("schedule installed")
	return nil
}

// Remove uninstalls the daily trigger. Removing an absent schedule is a
// no-op.
func (c *Controller) Remove(ctx context.Context) error {
	if err := c.store.SetScheduleState(ctx, store.ScheduleState{}); err != nil {
		return err
	}
	c.log.Info().Msg("schedule removed")
	return nil
}

// State reports the current schedule installation.
func (c *Controller) State(ctx context.Context) (store.ScheduleState, error) {
	return c.store.ScheduleState(ctx)
}

// Run blocks until ctx is done, sweeping once at startup (catch-up) and then
// whenever the installed wall-clock time comes around. Without an installed
// schedule it idles, re-checking periodically so an Install made through the
// API takes effect without a restart.
func (c *Controller) Run(ctx context.Context) error {
	if n, err := c.CatchUp(ctx); err != nil {
		c.log.Error().Err(err).Msg("startup catch-up failed")
	} else if n > 0 {
		c.log.Info().Int("keywords", n).Msg("startup catch-up done")
	}

	for {
		st, err := c.store.ScheduleState(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("read schedule state")
		}

		wait := time.Minute
		if st.TaskInstalled && st.ScheduleTime != "" {
			next := c.nextFire(st.ScheduleTime)
			wait = next.Sub(c.now())
			if wait < time.Second {
				wait = time.Second
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		st, err = c.store.ScheduleState(ctx)
		if err != nil || !st.TaskInstalled {
			continue
		}
		if _, err := c.CatchUp(ctx); err != nil {
			c.log.Error().Err(err).Msg("scheduled sweep failed")
		}
	}
}

// nextFire returns the next occurrence of the HH:MM wall-clock time, local.
func (c *Controller) nextFire(hhmm string) time.Time {
	var hour, min int
	fmt.Sscanf(hhmm, "%d:%d", &hour, &min)
	now := c.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// CatchUp sweeps every configured keyword that has no run in the current
// local day yet. Returns how many keywords were attempted.
func (c *Controller) CatchUp(ctx context.Context) (int, error) {
	return c.sweep(ctx, false)
}

// RunNow sweeps every configured keyword unconditionally, already-done days
// included. A repeated run on the same day overwrites nothing older; it adds
// a new run at the current timestamp.
func (c *Controller) RunNow(ctx context.Context) (int, error) {
	return c.sweep(ctx, true)
}

func (c *Controller) sweep(ctx context.Context, force bool) (int, error) {
	configs, err := c.store.ListDailyConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list daily configs: %w", err)
	}
	if len(configs) == 0 {
		return 0, nil
	}

	var due []store.DailyConfig
	for _, cfg := range configs {
		if !force {
			done, err := c.doneToday(ctx, cfg.Keyword)
			if err != nil {
				c.log.Warn().Err(err).Str("keyword", cfg.Keyword).Msg("cannot check last run, scraping anyway")
			} else if done {
				continue
			}
		}
		due = append(due, cfg)
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, cfg := range due {
		cfg := cfg
		g.Go(func() error {
			_, err := c.runner.Run(gctx, Request{
				Keyword:        cfg.Keyword,
				MinPrice:       cfg.MinPrice,
				MaxPrice:       cfg.MaxPrice,
				FilterMode:     cfg.FilterMode,
				ExcludeBadText: cfg.ExcludeBadText,
			})
			if err != nil {
				// Logged and swallowed: the keyword stays due and the next
				// sweep retries it.
				c.log.Error().Err(err).Str("keyword", cfg.Keyword).Msg("sweep run failed")
			}
			return nil
		})
	}
	g.Wait()
	return len(due), nil
}

// doneToday reports whether the keyword already has a run in the current
// local calendar day.
func (c *Controller) doneToday(ctx context.Context, keyword string) (bool, error) {
	run, err := c.store.LatestRun(ctx, keyword)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := c.now()
	y1, m1, d1 := run.ScrapedAt.Local().Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2, nil
}
