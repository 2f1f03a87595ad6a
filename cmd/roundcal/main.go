package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roundcal/internal/clock"
	"roundcal/internal/config"
	"roundcal/internal/ics"
	"roundcal/internal/index"
	appLog "roundcal/internal/log"
	"roundcal/internal/model"
	"roundcal/internal/notify"
	"roundcal/internal/remind"
	"roundcal/internal/store"
	"roundcal/internal/view"
	"roundcal/internal/web"
)

const icsSyncInterval = 30 * time.Minute

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	verbose    bool
}

func main() {
	appLog.Info("roundcal starting", "version", "0.1.0-dev")

	flags := parseFlags()
	if flags.verbose {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to resolve timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"tick", conf.TickCron,
		"look_ahead_hours", conf.LookAheadHours,
		"catch_up_days", conf.CatchUpDays,
		"ics_count", len(conf.ICS),
		"db_path", conf.DBPath,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	clk := clock.System()
	ix := index.New(loc)
	center := notify.NewCenter(clk)

	// Optional sqlite persistence: restore events and back the fired
	// markers so at-most-once survives restarts.
	var db *store.Store
	schedOpts := []remind.SchedulerOption{
		remind.WithTickSpec(conf.TickCron),
		remind.WithLookAhead(time.Duration(conf.LookAheadHours) * time.Hour),
		remind.WithCatchUp(time.Duration(conf.CatchUpDays) * 24 * time.Hour),
	}
	var sink web.EventSink
	if conf.DBPath != "" {
		db, err = store.Open(conf.DBPath)
		if err != nil {
			appLog.Error("failed to open database", err, "db_path", conf.DBPath)
			os.Exit(1)
		}
		defer db.Close()

		events, err := db.LoadEvents()
		if err != nil {
			appLog.Error("failed to load persisted events", err)
			os.Exit(1)
		}
		for _, ev := range events {
			if err := ix.Upsert(ev); err != nil {
				appLog.Error("persisted event rejected", err, "event_id", ev.ID)
			}
		}
		appLog.Info("events restored", "count", ix.Len())

		schedOpts = append(schedOpts, remind.WithMarkers(db))
		sink = db
	}

	projector := view.New(ix, clk,
		view.WithWeekStart(conf.WeekStartDay()),
		view.WithDisplayCap(conf.DisplayCap),
	)

	importer := ics.NewImporter(
		ics.NewFetcher(conf.CacheDir),
		ix, clk,
		time.Duration(conf.HorizonDays)*24*time.Hour,
		ics.ImportDefaults{
			Kind:            model.KindEvent,
			Priority:        model.PriorityMedium,
			ReminderOffsets: conf.ReminderOffsets(),
		},
	)
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, src := range conf.ICS {
		sources = append(sources, ics.Source{ID: src.ID, URL: src.URL})
	}

	scheduler := remind.NewScheduler(ix, center, clk, schedOpts...)

	if flags.once {
		runOnce(ctx, importer, sources, scheduler)
		return
	}

	importer.SyncAll(ctx, sources)
	go syncLoop(ctx, importer, sources)

	if err := scheduler.Start(); err != nil {
		appLog.Error("failed to start scheduler", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	srv := web.NewServer(conf, ix, projector, center, clk, sink)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}
	appLog.Info("roundcal exiting")
}

// runOnce performs a single sync and reminder pass, for cron-style use.
func runOnce(ctx context.Context, importer *ics.Importer, sources []ics.Source, scheduler *remind.Scheduler) {
	n := importer.SyncAll(ctx, sources)
	appLog.Info("single-shot sync completed", "imported", n)
	scheduler.Backfill()
	scheduler.Tick()
}

// syncLoop refreshes ICS subscriptions periodically until ctx cancels.
func syncLoop(ctx context.Context, importer *ics.Importer, sources []ics.Source) {
	if len(sources) == 0 {
		return
	}
	ticker := time.NewTicker(icsSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			importer.SyncAll(ctx, sources)
		}
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync+reminder pass and exit")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
