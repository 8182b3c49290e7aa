package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	persistlog "monsterarena.ai/internal/persistence/log"
	"monsterarena.ai/internal/persistence/snapshot"
	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/ledger"
	"monsterarena.ai/internal/sim/tuning"
	"monsterarena.ai/internal/transport/observer"
	"monsterarena.ai/internal/transport/ws"
)

// serverEnv holds the ARENA_* process settings that are not arena tuning.
type serverEnv struct {
	Addr            string `env:"ADDR" envDefault:":8080"`
	DataDir         string `env:"DATA_DIR" envDefault:"./data"`
	IndexBackend    string `env:"INDEX_BACKEND" envDefault:"sqlite"`
	EnableAdminHTTP bool   `env:"ENABLE_ADMIN_HTTP" envDefault:"true"`
	EnablePprofHTTP bool   `env:"ENABLE_PPROF_HTTP" envDefault:"false"`
}

func main() {
	var se serverEnv
	if err := env.ParseWithOptions(&se, env.Options{Prefix: tuning.EnvPrefix}); err != nil {
		log.Fatalf("[server] parse env: %v", err)
	}

	var (
		addr       = flag.String("addr", se.Addr, "http listen address (or ARENA_ADDR)")
		dataDir    = flag.String("data", se.DataDir, "runtime data directory (or ARENA_DATA_DIR)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to arena.yaml (default: <configs>/arena.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "arena.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	arenaDir := filepath.Join(*dataDir, "arenas", tune.ArenaID)
	snapDir := filepath.Join(arenaDir, "snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	// Optional read-model index (does not affect engine state).
	idx, err := openRuntimeIndex(arenaDir, se.IndexBackend, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	actionLog := persistlog.NewActionLogger(arenaDir)
	custodyLog := persistlog.NewCustodyLogger(arenaDir)
	defer actionLog.Close()
	defer custodyLog.Close()

	hub := observer.NewHub()
	snapReq := make(chan struct{}, 1)
	every := uint64(tune.SnapshotEveryActions)

	engine, err := arena.New(arena.Config{
		ID:    tune.ArenaID,
		Pool:  ledger.AccountID(tune.PoolAccount),
		Rules: tune.Rules(),
	}, ledger.NewMemoryLedger(),
		arena.WithLogger(log.New(os.Stdout, "[arena] ", log.LstdFlags|log.Lmicroseconds)),
		arena.WithActionLogger(multiActionLogger{a: actionLog, b: idx}),
		arena.WithCustodyLogger(multiCustodyLogger{a: custodyLog, b: idx}),
		arena.WithCommitHook(func(res arena.Result) {
			hub.Publish(res)
			if idx != nil {
				idx.RecordResult(res)
			}
			if every > 0 && res.Seq%every == 0 {
				select {
				case snapReq <- struct{}{}:
				default:
				}
			}
		}),
	)
	if err != nil {
		logger.Fatalf("arena: %v", err)
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad, err = snapshot.Latest(snapDir)
		if err != nil && !errors.Is(err, snapshot.ErrNoSnapshots) {
			logger.Fatalf("find latest snapshot: %v", err)
		}
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.ArenaID != "" && snap.Header.ArenaID != tune.ArenaID {
			logger.Fatalf("snapshot arena id mismatch: tuning=%s snap=%s", tune.ArenaID, snap.Header.ArenaID)
		}
		if err := engine.Import(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		if cfg := engine.Config(); cfg.Rules != tune.Rules() || string(cfg.Pool) != tune.PoolAccount {
			logger.Printf("snapshot config overrides tuning: pool=%s rules=%+v", cfg.Pool, cfg.Rules)
		}
		logger.Printf("resumed from snapshot=%s seq=%d", filepath.Base(snapshotToLoad), engine.Seq())
	}

	if idx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.UpsertTuning(ctx, tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
		if err := idx.ResetSavedPlayers(ctx, engine.SavedPlayers(), engine.Seq()); err != nil {
			logger.Printf("index backend: reset saved players: %v", err)
		}
		cancel()
	}

	snaps := &snapshotWriter{engine: engine, dir: snapDir, idx: idx, log: logger}

	ctx, cancel := signalContext()
	defer cancel()

	// Periodic snapshots run off the action path.
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-snapReq:
				if _, _, err := snaps.Write(ctx); err != nil {
					logger.Printf("snapshot write: %v", err)
				}
			}
		}
	}()

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalf("schemas: %v", err)
	}
	wsSrv := ws.NewServer(engine, validator, ws.Options{
		ActionsPerSec: tune.RateLimits.ActionsPerSec,
		Burst:         tune.RateLimits.Burst,
		MaxSessions:   tune.MaxSessions,
	}, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		cfg := engine.Config()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP arena_seq Last applied action sequence number.\n")
		fmt.Fprintf(rw, "# TYPE arena_seq counter\n")
		fmt.Fprintf(rw, "arena_seq{arena=%q} %d\n", cfg.ID, engine.Seq())

		fmt.Fprintf(rw, "# HELP arena_monsters Live monsters in the registry.\n")
		fmt.Fprintf(rw, "# TYPE arena_monsters gauge\n")
		fmt.Fprintf(rw, "arena_monsters{arena=%q} %d\n", cfg.ID, len(engine.Monsters()))

		fmt.Fprintf(rw, "# HELP arena_saved_players Players with a saved snapshot.\n")
		fmt.Fprintf(rw, "# TYPE arena_saved_players gauge\n")
		fmt.Fprintf(rw, "arena_saved_players{arena=%q} %d\n", cfg.ID, len(engine.SavedPlayers()))

		fmt.Fprintf(rw, "# HELP arena_ws_sessions Connected websocket sessions.\n")
		fmt.Fprintf(rw, "# TYPE arena_ws_sessions gauge\n")
		fmt.Fprintf(rw, "arena_ws_sessions{arena=%q} %d\n", cfg.ID, wsSrv.Sessions())

		fmt.Fprintf(rw, "# HELP arena_observer_dropped_total Events dropped for slow observers.\n")
		fmt.Fprintf(rw, "# TYPE arena_observer_dropped_total counter\n")
		fmt.Fprintf(rw, "arena_observer_dropped_total{arena=%q} %d\n", cfg.ID, hub.Dropped())

		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP arena_index_queue_depth Index writer backlog depth.\n")
			fmt.Fprintf(rw, "# TYPE arena_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "arena_index_queue_depth{arena=%q} %d\n", cfg.ID, st.QueueDepth)

			fmt.Fprintf(rw, "# HELP arena_index_dropped_total Index writes dropped because the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE arena_index_dropped_total counter\n")
			fmt.Fprintf(rw, "arena_index_dropped_total{arena=%q,kind=%q} %d\n", cfg.ID, "action", st.DropActionTotal)
			fmt.Fprintf(rw, "arena_index_dropped_total{arena=%q,kind=%q} %d\n", cfg.ID, "custody", st.DropCustodyTotal)
			fmt.Fprintf(rw, "arena_index_dropped_total{arena=%q,kind=%q} %d\n", cfg.ID, "players", st.DropPlayersTotal)
			fmt.Fprintf(rw, "arena_index_dropped_total{arena=%q,kind=%q} %d\n", cfg.ID, "snapshot", st.DropSnapshotTotal)
		}
	})

	obsSrv := observer.NewServer(engine, hub, snaps.Write, logger)
	obsSrv.Register(mux)
	if se.EnableAdminHTTP {
		// Local-only admin endpoints.
		obsSrv.RegisterAdmin(mux)
	} else {
		logger.Printf("admin endpoints disabled (ARENA_ENABLE_ADMIN_HTTP=false)")
	}
	if se.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (ARENA_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("arena=%s pool=%s metric=%s radius=%d range=%d listening on %s",
		tune.ArenaID, tune.PoolAccount, tune.DistanceMetric, tune.SafeZoneRadius, tune.InteractionRange, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	cancel()
	<-snapDone
	if path, seq, err := snaps.Write(context.Background()); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		logger.Printf("final snapshot=%s seq=%d", filepath.Base(path), seq)
	}
	if idx != nil {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		_ = idx.Flush(ctx2)
		cancel2()
	}
}

// snapshotWriter serializes snapshot writes from the periodic sink, the
// admin endpoint and shutdown.
type snapshotWriter struct {
	engine *arena.Engine
	dir    string
	idx    runtimeIndex
	log    *log.Logger

	mu      sync.Mutex
	lastSeq uint64
	wrote   bool
}

// Write snapshots the engine now. A repeat at an unchanged seq is a no-op.
func (w *snapshotWriter) Write(context.Context) (string, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := w.engine.Export()
	path := snapshot.PathFor(w.dir, snap.Header.Seq)
	if w.wrote && snap.Header.Seq == w.lastSeq {
		return path, w.lastSeq, nil
	}
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", 0, err
	}
	w.lastSeq = snap.Header.Seq
	w.wrote = true
	if w.idx != nil {
		w.idx.RecordSnapshot(path, snap)
	}
	w.log.Printf("snapshot=%s seq=%d", filepath.Base(path), snap.Header.Seq)
	return path, snap.Header.Seq, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
