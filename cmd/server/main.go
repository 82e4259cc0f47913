package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"gridbuild.dev/internal/persistence/indexdb"
	persistlog "gridbuild.dev/internal/persistence/log"
	"gridbuild.dev/internal/persistence/snapshot"
	"gridbuild.dev/internal/sim/catalogs"
	"gridbuild.dev/internal/sim/tuning"
	"gridbuild.dev/internal/sim/world"
	"gridbuild.dev/internal/transport/observer"
	"gridbuild.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "grid_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (ticks, audits, placements, snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		if p, _, err := snapshot.Latest(filepath.Join(worldDir, "snapshots")); err == nil {
			snapshotToLoad = p
		}
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		// Resume fallback: the snapshot carries the grid parameters.
		if snapshotToLoad == "" || !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Optional read model (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	w, err := world.New(worldConfig(*worldID, tune, logger), cats)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	if snapshotToLoad != "" {
		if err := resume(w, idx, snapshotToLoad, *worldID); err != nil {
			logger.Fatalf("resume: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d placements=%d", filepath.Base(snapshotToLoad), w.CurrentTick(), w.Grid().Len())
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(worldDir)
	auditLog := persistlog.NewAuditLogger(worldDir)
	defer tickLog.Close()
	defer auditLog.Close()
	if idx != nil {
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
		w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})
	} else {
		w.SetTickLogger(tickLog)
		w.SetAuditLogger(auditLog)
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", snapshot.FileName(snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if fi, err := os.Stat(path); err == nil {
					logger.Printf("snapshot tick=%d placements=%d size=%s", snap.Header.Tick, len(snap.Records), humanize.Bytes(uint64(fi.Size())))
				}
				idx.RecordSnapshot(path, snap)
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world stopped: %v", err)
		}
	}()

	obsSrv := observer.NewServer(w, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := w.Metrics()
		if m.Tick == 0 {
			m.Tick = w.CurrentTick()
		}
		writeMetrics(rw, *worldID, m, idx, obsSrv.Streams())
	})

	enableAdminHTTP := envBool("GB_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("GB_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", obsSrv.StateHandler())
		mux.HandleFunc("/admin/v1/snapshot", obsSrv.SnapshotHandler())
		mux.HandleFunc("/admin/v1/resize", obsSrv.ResizeHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (GB_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

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

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	logger.Printf("listening on %s world=%s grid=%d tuning=%s", ln.Addr(), *worldID, w.Grid().Size(), shortDigest(tune.Digest()))
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func worldConfig(id string, tune tuning.Tuning, logger *log.Logger) world.WorldConfig {
	return world.WorldConfig{
		ID:                 id,
		TickRateHz:         tune.TickRateHz,
		GridSize:           tune.GridSize,
		CellSize:           tune.CellSize,
		Origin:             tune.Origin,
		MaxGridSize:        tune.MaxGridSize,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		MassMaxTiles:       tune.MassPlace.MaxTiles,
		RateLimits: world.RateLimitConfig{
			PlaceWindowTicks:      tune.RateLimits.PlaceWindowTicks,
			PlaceMax:              tune.RateLimits.PlaceMax,
			MassCommitWindowTicks: tune.RateLimits.MassCommitWindowTicks,
			MassCommitMax:         tune.RateLimits.MassCommitMax,
		},
		TuningDigest: tune.Digest(),
		Logger:       logger,
	}
}

// resume loads a snapshot into a stopped world. Sessions stored in the
// snapshot have no connection after a restart, so they are dropped.
func resume(w *world.World, idx *indexdb.SQLiteIndex, path, worldID string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != worldID {
		return errors.New("snapshot world id mismatch: flag=" + worldID + " snap=" + snap.Header.WorldID)
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return err
	}
	w.DropDetachedSessions()
	return idx.ResetPlacements(snap.Header.Tick, snap)
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
