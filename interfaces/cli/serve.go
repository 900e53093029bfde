package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/apexsports/apexfeed/application/access"
	"github.com/apexsports/apexfeed/application/schedule"
	"github.com/apexsports/apexfeed/domain/cache"
	"github.com/apexsports/apexfeed/domain/provider"
	"github.com/apexsports/apexfeed/domain/sports"
	"github.com/apexsports/apexfeed/infrastructure/config"
	"github.com/apexsports/apexfeed/infrastructure/logging"
	"github.com/apexsports/apexfeed/infrastructure/observability"
	"github.com/apexsports/apexfeed/infrastructure/ratelimit"
	"github.com/apexsports/apexfeed/infrastructure/storage/memory"
	"github.com/apexsports/apexfeed/infrastructure/storage/redis"
	"github.com/apexsports/apexfeed/infrastructure/storage/sqlite"
	"github.com/apexsports/apexfeed/infrastructure/storage/tiered"
)

// newServeCmd creates the serve command.
func (a *App) newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the data access daemon with periodic refreshes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "apexfeed.yaml", "path to config file")
	return cmd
}

// runServe wires the full stack from configuration and blocks until the
// context is cancelled.
func (a *App) runServe(ctx context.Context, configPath string) error {
	cfg, err := config.NewLoader().LoadFile(configPath)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	persistent, err := newPersistentTier(cfg.Cache)
	if err != nil {
		return fmt.Errorf("persistent tier: %w", err)
	}

	mem := memory.NewCache(memory.WithMaxSize(cfg.Cache.MemoryMaxEntries))
	tiers := tiered.New(mem, persistent)

	meter := observability.NewOTelMeter("apexfeed")
	limiter := ratelimit.New(registry, ratelimit.WithMeter(meter))

	layer := access.New(registry, tiers, limiter,
		access.WithMeter(meter),
		access.WithGlobalLimit(cfg.Fetch.GlobalRate, cfg.Fetch.GlobalBurst),
		access.WithMaxConcurrent(cfg.Fetch.MaxConcurrent))
	defer layer.Close()

	sched := schedule.NewScheduler(refreshJobs(cfg, layer)...)
	sched.Start(ctx)

	logging.Info().
		Add(logging.Count(int64(registry.Len()))).
		Add(logging.Str("persistent", cfg.Cache.Persistent)).
		Msg("apexfeed started")

	<-ctx.Done()

	sched.Stop()
	logging.Info().Msg("apexfeed stopped")
	return nil
}

// newPersistentTier builds the configured persistent cache backend.
func newPersistentTier(cfg config.CacheConfig) (cache.ScopedCache, error) {
	switch cfg.Persistent {
	case "redis":
		rcfg := redis.DefaultConfig(cfg.RedisAddress)
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		return redis.NewCache(rcfg)
	default:
		return sqlite.NewCache(sqlite.DefaultConfig(cfg.SQLitePath))
	}
}

// refreshJobs builds the periodic refresh jobs from configuration. No
// provider or no sports means no background refreshes.
func refreshJobs(cfg *config.Config, layer *access.Layer) []schedule.Job {
	if cfg.Schedule.Provider == "" || len(cfg.Schedule.Sports) == 0 {
		return nil
	}

	endpoints := make(map[provider.ID]string, len(cfg.Providers))
	for name, p := range cfg.Providers {
		endpoints[provider.ID(name)] = p.Endpoint
	}
	fetcher := newHTTPFetcher(endpoints)

	primary := provider.ID(cfg.Schedule.Provider)
	list := make([]sports.Sport, len(cfg.Schedule.Sports))
	for i, s := range cfg.Schedule.Sports {
		list[i] = sports.Sport(s)
	}

	var jobs []schedule.Job
	if d := time.Duration(cfg.Schedule.TeamsMinutes) * time.Minute; d > 0 {
		jobs = append(jobs, schedule.Job{
			Name:     "teams-refresh",
			Interval: d,
			Run:      refreshRun[[]sports.Team](layer, fetcher, primary, list, sports.DataTeams, d, cache.PriorityMedium),
		})
	}
	if d := time.Duration(cfg.Schedule.GamesMinutes) * time.Minute; d > 0 {
		jobs = append(jobs, schedule.Job{
			Name:     "games-refresh",
			Interval: d,
			Run:      refreshRun[[]sports.Game](layer, fetcher, primary, list, sports.DataGames, d, cache.PriorityMedium),
		})
	}
	if d := time.Duration(cfg.Schedule.OddsMinutes) * time.Minute; d > 0 {
		jobs = append(jobs, schedule.Job{
			Name:     "odds-refresh",
			Interval: d,
			Run:      refreshRun[[]sports.OddsLine](layer, fetcher, primary, list, sports.DataOdds, d, cache.PriorityHigh),
		})
	}
	return jobs
}

// refreshRun builds one job body: for each sport, drop the cached copy and
// fetch a fresh one through the protected path. Degraded outcomes count as
// job failures so they show up in the job log.
func refreshRun[T any](layer *access.Layer, fetcher *httpFetcher, p provider.ID, list []sports.Sport, dt sports.DataType, ttl time.Duration, prio cache.Priority) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, s := range list {
			key := refreshKey(s, dt)
			scope := cache.Scope{Sport: string(s), DataType: string(dt)}

			if err := layer.Invalidate(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalidate: %w", key, err))
				continue
			}

			res, err := access.GetOrFetch[T](ctx, layer, access.Request{
				Key:      key,
				Scope:    scope,
				Provider: p,
				TTL:      ttl,
				Priority: prio,
				Fetch:    fetcher.fetchFunc(s, dt),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			if res.Status.Degraded() {
				errs = append(errs, fmt.Errorf("%s: %s: %w", key, res.Status, res.Err))
			}
		}
		return errors.Join(errs...)
	}
}

// refreshKey is the cache key a refresh job maintains for one sport.
func refreshKey(s sports.Sport, dt sports.DataType) string {
	switch dt {
	case sports.DataGames:
		return sports.GamesKey(s, time.Now())
	case sports.DataTeams:
		return sports.TeamsKey(s)
	default:
		return sports.OddsKey(s)
	}
}
