/**
 * @description
 * Manual sync and generation CLI.
 * `racewise-sync` imports a day (or range) of KRA data; `racewise-sync predict`
 * runs the prediction generator for one race.
 *
 * @dependencies
 * - github.com/spf13/cobra: command and flag parsing
 * - backend/internal/services
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/db"
	"github.com/racewise/backend/internal/integrations/kra"
	"github.com/racewise/backend/internal/logger"
	"github.com/racewise/backend/internal/models"
	"github.com/racewise/backend/internal/prediction"
	"github.com/racewise/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type options struct {
	date        string
	from        string
	to          string
	memoryCache bool
	noDetails   bool
}

// env is what every subcommand needs once config is loaded.
type env struct {
	cfg   *config.Config
	db    *gorm.DB
	cache *services.Cache
	close func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "racewise-sync",
		Short:        "Import race cards, entries and results from the KRA API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().BoolVar(&opts.memoryCache, "memory-cache", false, "use an in-process redis instead of REDIS_URL")
	root.Flags().StringVar(&opts.date, "date", "", "race day YYYYMMDD (default today)")
	root.Flags().StringVar(&opts.from, "from", "", "first day of a range YYYYMMDD")
	root.Flags().StringVar(&opts.to, "to", "", "last day of a range YYYYMMDD")
	root.Flags().BoolVar(&opts.noDetails, "no-details", false, "skip horse, jockey and trainer detail lookups")
	root.MarkFlagsRequiredTogether("from", "to")
	root.MarkFlagsMutuallyExclusive("date", "from")

	root.AddCommand(newPredictCmd(opts))
	return root
}

func newPredictCmd(opts *options) *cobra.Command {
	var (
		raceID  uint
		types   []string
		compact bool
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Generate predictions for one race",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := prediction.ParseTypes(types)
			if err != nil {
				return err
			}
			return runPredict(cmd.Context(), opts, raceID, parsed, services.Options{
				UseCompactContext: compact,
				SkipSave:          dryRun,
			})
		},
	}
	cmd.Flags().UintVar(&raceID, "race", 0, "race id")
	cmd.Flags().StringSliceVar(&types, "types", []string{string(prediction.TypeWin)}, "prediction types, comma separated")
	cmd.Flags().BoolVar(&compact, "compact", false, "send the compact context")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not store the result")
	_ = cmd.MarkFlagRequired("race")
	return cmd
}

func setup(ctx context.Context, opts *options) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.Server.Env)

	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	var (
		rdb     *redis.Client
		closeFn = func() {}
	)
	if opts.memoryCache {
		rdb, closeFn, err = db.NewMemoryRedis()
		if err != nil {
			return nil, fmt.Errorf("failed to start in-memory redis: %w", err)
		}
	} else if rdb, err = db.ConnectRedis(ctx, cfg); err != nil {
		logger.Warn("Redis unavailable, continuing without cache: %v", err)
		rdb = nil
	} else {
		closeFn = func() { _ = rdb.Close() }
	}

	return &env{cfg: cfg, db: pgDB, cache: services.NewCache(rdb), close: closeFn}, nil
}

func runSync(ctx context.Context, opts *options) error {
	e, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer e.close()
	defer func() { _ = logger.Sync() }()

	svc := services.NewRaceService(e.db, e.cache, kra.NewClient(e.cfg))
	svc.FetchDetails = !opts.noDetails

	var results []*services.SyncResult
	switch {
	case opts.from != "":
		from, err := kra.ParseDate(opts.from)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := kra.ParseDate(opts.to)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		logger.Info("🚀 Syncing %s..%s", kra.FormatDate(from), kra.FormatDate(to))
		if results, err = svc.SyncRange(ctx, from, to); err != nil {
			return err
		}
	default:
		day := time.Now()
		if opts.date != "" {
			if day, err = kra.ParseDate(opts.date); err != nil {
				return fmt.Errorf("--date: %w", err)
			}
		}
		logger.Info("🚀 Syncing %s", kra.FormatDate(day))
		res, err := svc.SyncDate(ctx, day)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	failed := 0
	for _, r := range results {
		logger.Info("%s: %d races, %d entries, %d results, %d failed (%s)", r.Date, r.Races, r.Entries, r.Results, r.Failed, r.Duration)
		for _, msg := range r.Errors {
			logger.Warn("  %s", msg)
		}
		failed += r.Failed
	}

	var count int64
	if err := e.db.Model(&models.Race{}).Count(&count).Error; err == nil {
		logger.Info("✅ Races stored in Postgres: %d", count)
	}
	if failed > 0 {
		return fmt.Errorf("%d records failed to import", failed)
	}
	return nil
}

func runPredict(ctx context.Context, opts *options, raceID uint, types []prediction.Type, genOpts services.Options) error {
	e, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer e.close()
	defer func() { _ = logger.Sync() }()

	contexts := services.NewRaceContextService(e.db, e.cache, e.cfg.Prediction.ContextCacheTTL)
	svc := services.NewPredictionService(contexts, services.NewModel(e.cfg), services.NewPredictionStore(e.db), e.cache, services.GeneratorConfigFrom(e.cfg))

	batch, err := svc.GenerateMultiple(ctx, raceID, types, genOpts)
	if err != nil {
		return err
	}
	for _, r := range batch.Results {
		logger.Info("✅ %s: confidence %.2f after %d attempt(s), saved=%t", r.Type, r.Confidence, r.Attempts, r.Saved)
		if r.Reasoning != "" {
			logger.Info("   %s", logger.Truncate(r.Reasoning, 200))
		}
	}
	if batch.FailedCount > 0 {
		var parts []string
		for t, msg := range batch.Failures {
			parts = append(parts, t+": "+msg)
		}
		return fmt.Errorf("%d of %d types failed: %s", batch.FailedCount, len(types), strings.Join(parts, "; "))
	}
	return nil
}
