package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/driftmud/server/internal/config"
	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	coresys "github.com/driftmud/server/internal/core/system"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/gateway"
	"github.com/driftmud/server/internal/govern"
	"github.com/driftmud/server/internal/modhost"
	"github.com/driftmud/server/internal/ops"
	"github.com/driftmud/server/internal/persist"
	"github.com/driftmud/server/internal/sim"
	"github.com/driftmud/server/internal/system"
	"github.com/driftmud/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const (
	bootTimeout     = 30 * time.Second
	shutdownTimeout = 5 * time.Second

	// Journal rows older than this get swept by the background janitor.
	journalRetention  = 24 * time.Hour
	journalSweepEvery = 10 * time.Minute

	maxBatchOps = 1024
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            driftmud  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     authoritative world simulation        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := os.Getenv("DRIFTMUD_CONFIG")
	if cfgPath == "" {
		if _, err := os.Stat("config/server.toml"); err == nil {
			cfgPath = "config/server.toml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Connect to PostgreSQL and run migrations. An empty DSN runs the
	// server without one: no snapshots, no journal, no extension storage.
	var (
		db          *persist.DB
		snapRepo    *persist.SnapshotRepo
		modKVRepo   *persist.ModKVRepo
		journalRepo *persist.JournalRepo
	)
	if cfg.Database.DSN != "" {
		printSection("storage")

		ctx, cancel := context.WithTimeout(context.Background(), bootTimeout)
		db, err = persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		printOK("connected to PostgreSQL")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			cancel()
			return fmt.Errorf("run migrations: %w", err)
		}
		version, err := persist.SchemaVersion(ctx, db.Pool)
		cancel()
		if err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
		printOK(fmt.Sprintf("migrations up to date (schema v%d)", version))

		snapRepo = persist.NewSnapshotRepo(db)
		modKVRepo = persist.NewModKVRepo(db)
		journalRepo = persist.NewJournalRepo(db)
	} else {
		log.Warn("no database configured, state is ephemeral")
	}

	// 4. Load definitions: base content first, mods merged over it
	printSection("content")

	loader := data.NewLoader(log, cfg.Content.BaseDirs, cfg.Content.ModDirs)
	set, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	counts := set.Counts()
	printStat("zones", counts[data.KindZone])
	printStat("npcs", counts[data.KindNPC])
	printStat("items", counts[data.KindItem])
	printStat("quests", counts[data.KindQuest])
	printOK(fmt.Sprintf("definitions merged, fingerprint %016x", set.Fingerprint()))
	defs := data.NewHolder(set)

	// 5. Assemble the core: entity world, event bus, resource governor
	w := ecs.NewWorld(maxBatchOps)
	tables, err := world.RegisterComponents(w)
	if err != nil {
		return fmt.Errorf("register components: %w", err)
	}
	bus := event.NewBus(log)
	gov := govern.New(log)
	outbox := world.NewOutbox()

	budget := govern.Budget{
		TickSlice:    cfg.Budgets.TickSlice,
		MemoryBytes:  cfg.Budgets.MemoryBytes,
		MaxListeners: cfg.Budgets.MaxListeners,
	}

	// 6. Extension host. Script chat lands in the outbox like player chat.
	var modStorage modhost.StorageProvider
	if modKVRepo != nil {
		modStorage = modKVRepo
	}
	host := modhost.New(modhost.Deps{
		Log:     log,
		Bus:     bus,
		Gov:     gov,
		World:   w,
		Defs:    defs,
		Storage: modStorage,
		Broadcast: func(from, text string) {
			outbox.Broadcast("announce", map[string]any{"from": from, "text": text})
		},
	})

	// 7. Gateway and systems. The submit closure resolves once the
	// scheduler exists below; no intent arrives before the HTTP server is up.
	var sched *sim.Scheduler
	gw := gateway.New(log, func(in sim.Intent) error {
		return sched.SubmitIntent(in)
	}, cfg.Gateway.OutQueueSize)

	spawn := system.SpawnPoint{Zone: cfg.Sim.SpawnZone, X: cfg.Sim.SpawnX, Y: cfg.Sim.SpawnY}
	intake := system.NewIntakeSystem(log, gw, w, tables, bus, outbox, spawn)

	var snapStore system.SnapshotStore
	if snapRepo != nil {
		snapStore = snapRepo
	}
	persistSys := system.NewPersistenceSystem(log, w, defs, snapStore, host,
		uint64(cfg.Sim.AutosaveTicks), cfg.Sim.SnapshotKeep)

	runner := coresys.NewRunner()
	runner.Register(intake)
	runner.Register(system.NewRegenSystem(tables, defs))
	runner.Register(system.NewRespawnSystem(log, w, tables, bus, defs, outbox, spawn))
	runner.Register(system.NewDecaySystem(w, tables, bus))
	runner.Register(system.NewScriptTickSystem(host))
	runner.Register(system.NewOutboundSystem(log, bus, outbox, gw))
	runner.Register(persistSys)
	if journalRepo != nil {
		runner.Register(system.NewJournalSystem(log, bus, journalRepo))
	}
	runner.Register(system.NewCleanupSystem(w))

	sched = sim.New(sim.Deps{
		Log:           log,
		World:         w,
		Bus:           bus,
		Gov:           gov,
		Host:          host,
		Systems:       runner,
		Rate:          cfg.Sim.TickRate,
		IntentCeiling: cfg.Sim.IntentCeiling,
		IntentBacklog: cfg.Sim.IntentBacklog,
		OnDrain: func(tick uint64) error {
			persistSys.SaveNow(tick)
			return nil
		},
	})
	sched.HandleIntent("move", system.MoveIntent(intake, tables, bus, defs))
	sched.HandleIntent("say", system.SayIntent(intake, tables, bus, outbox))
	sched.HandleIntent("attack", system.AttackIntent(intake, tables, bus, outbox))

	// 8. Restore the newest snapshot, or seed a fresh world from definitions
	printSection("world")
	restored := false
	if snapRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bootTimeout)
		snap, snapID, err := snapRepo.LoadLatest(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("load latest snapshot: %w", err)
		}
		if snap != nil {
			if err := world.Restore(w, snap); err != nil {
				return fmt.Errorf("restore snapshot %s: %w", snapID, err)
			}
			if err := sched.SetTick(snap.Tick); err != nil {
				return fmt.Errorf("set tick: %w", err)
			}
			if snap.DefsSum != set.Fingerprint() {
				log.Warn("snapshot was taken under different definitions",
					zap.String("snapshot", snapID.String()))
			}
			printOK(fmt.Sprintf("restored snapshot %s (tick %d, %d entities)",
				snapID, snap.Tick, len(snap.Entities)))
			restored = true
		}
	}
	if !restored {
		n, err := seedWorld(set, w, tables, cfg.Sim.SpawnZone)
		if err != nil {
			return fmt.Errorf("seed world: %w", err)
		}
		printStat("npcs spawned", n)
	}

	// 9. Boot extensions from config. A broken script is logged and skipped;
	// one bad mod must not keep the server down.
	if len(cfg.Mods) > 0 {
		printSection("extensions")
		for _, m := range cfg.Mods {
			src, err := os.ReadFile(m.Path)
			if err != nil {
				log.Error("read extension", zap.String("id", m.ID), zap.Error(err))
				continue
			}
			if err := host.Load(m.ID, string(src), m.Perms, budget); err != nil {
				log.Error("load extension", zap.String("id", m.ID), zap.Error(err))
				continue
			}
			printOK(fmt.Sprintf("extension loaded: %s", m.ID))
		}
	}

	// 10. Operator surface and HTTP front door
	var opsSnapshots ops.SnapshotStore
	if snapRepo != nil {
		opsSnapshots = snapRepo
	}
	ctl := ops.New(ops.Deps{
		Log:       log,
		Sched:     sched,
		World:     w,
		Bus:       bus,
		Defs:      defs,
		Loader:    loader,
		Host:      host,
		Snapshots: opsSnapshots,
		Budget:    budget,
	})

	var journalReader gateway.JournalReader
	if journalRepo != nil {
		journalReader = journalRepo
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", gw.ServeWS)
	mux.Handle("/admin/", gateway.RequireAdmin(log, cfg.Gateway.AdminTokenHash,
		gateway.AdminRoutes(ctl, journalReader)))
	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 11. Start ticking and serve until a signal lands
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	fmt.Println()
	printReady(fmt.Sprintf("ticking every %s, gateway on %s", cfg.Sim.TickRate, cfg.Gateway.Addr))
	fmt.Println()
	log.Info("server up",
		zap.String("addr", cfg.Gateway.Addr),
		zap.Duration("tick_rate", cfg.Sim.TickRate),
		zap.Bool("persistent", db != nil))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if journalRepo != nil {
		g.Go(func() error {
			ticker := time.NewTicker(journalSweepEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), bootTimeout)
					n, err := journalRepo.PruneBefore(ctx, time.Now().Add(-journalRetention))
					cancel()
					if err != nil {
						log.Warn("journal prune failed", zap.Error(err))
					} else if n > 0 {
						log.Debug("journal pruned", zap.Int64("removed", n))
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		gw.CloseAll()

		// Stop drains the backlog and runs the final autosave before parking.
		if err := sched.Stop(); err != nil {
			if !errors.Is(err, sim.ErrNotRunning) {
				log.Warn("stop scheduler", zap.Error(err))
			}
		} else {
			<-sched.Done()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("goodbye")
	return nil
}

// seedWorld places one instance of every NPC definition into the spawn zone,
// spread on a coarse grid. Fresh boots only; restored worlds already carry
// their population.
func seedWorld(set *data.DefinitionSet, w *ecs.World, tables *world.Tables, zoneID string) (int, error) {
	zone := set.Zone(zoneID)
	if zone == nil {
		return 0, fmt.Errorf("spawn zone %q not defined", zoneID)
	}
	spanX, spanY := zone.Width-2, zone.Height-2
	if spanX < 1 {
		spanX = 1
	}
	if spanY < 1 {
		spanY = 1
	}
	n := 0
	set.EachNPC(func(def *data.NPCDef) {
		x := 1 + (3*n)%spanX
		y := 1 + (3*n/spanX)%spanY
		system.SpawnNPC(w, tables, def, x, y, zone.ID)
		n++
	})
	return n, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
