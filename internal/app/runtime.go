package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skobkin/xaescope/internal/bus"
	"github.com/skobkin/xaescope/internal/config"
	"github.com/skobkin/xaescope/internal/device"
	"github.com/skobkin/xaescope/internal/dispatch"
	"github.com/skobkin/xaescope/internal/domain"
	"github.com/skobkin/xaescope/internal/logging"
	"github.com/skobkin/xaescope/internal/persistence"
	"github.com/skobkin/xaescope/internal/platform"
	"github.com/skobkin/xaescope/internal/server"
	"github.com/skobkin/xaescope/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Options are command-line overrides applied on top of the config file.
type Options struct {
	ConfigPath string
	ListenAddr string
}

type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager  *logging.Manager
	Lock        platform.InstanceLock
	Bus         *bus.PubSubBus
	DB          *sql.DB
	ActionRepo  *persistence.ActionRepo
	WriterQueue *persistence.WriterQueue

	Dispatcher *dispatch.Dispatcher
	Sessions   *session.Manager
	Server     *server.Server
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePaths(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if addr := strings.TrimSpace(opts.ListenAddr); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", paths.ConfigFile, err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	build := CurrentBuild()
	slog.Info("starting xaescope runtime", "version", build.Version, "build_date", build.Date, "release", build.Release(), "config", paths.ConfigFile)

	lock, err := platform.AcquireInstanceLock(Name, cfg.Device.Program)
	if err != nil && !errors.Is(err, platform.ErrInstanceLockUnsupported) {
		_ = rt.Close()
		return nil, fmt.Errorf("lock device: %w", err)
	}
	if err != nil {
		slog.Warn("device lock unavailable on this platform", "error", err)
	}
	rt.Lock = lock

	b := bus.New(logMgr.Logger("bus"), 0)
	rt.Bus = b

	if cfg.Journal.Enabled {
		if err := rt.openJournal(ctx); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	invoker := device.NewExecInvoker(logMgr.Logger("device"), device.ExecOptions{
		Program: cfg.Device.Program,
		Args:    cfg.Device.Args,
		Dir:     cfg.Device.WorkDir,
		Timeout: cfg.Device.InvokeTimeout.Std(),
	})
	rt.Dispatcher = dispatch.New(logMgr.Logger("dispatch"), b, invoker, dispatch.Options{
		QueueCapacity: cfg.Device.QueueCapacity,
		CaptureTTL:    cfg.Capture.TTL.Std(),
	})
	rt.Dispatcher.Start(ctx)

	rt.Sessions = session.NewManager(logMgr.Logger("session"), rt.Dispatcher, session.Options{
		ActionBuffer: cfg.Session.ActionBuffer,
		WriteTimeout: cfg.Session.WriteTimeout.Std(),
	})
	rt.Sessions.TrackDeviceStatus(ctx, b)

	var journal server.ActionLister
	if rt.ActionRepo != nil {
		journal = rt.ActionRepo
	}
	rt.Server = server.New(logMgr.Logger("server"), server.Options{
		ListenAddr: cfg.Server.ListenAddr,
		AssetRoot:  cfg.Server.AssetRoot,
		ReadLimit:  cfg.Server.ReadLimit,
		Version:    build.Version,
	}, rt.Sessions, rt.Dispatcher, journal)
	if err := rt.Server.Start(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) openJournal(ctx context.Context) error {
	db, err := persistence.Open(ctx, r.Paths.DBFile)
	if err != nil {
		return err
	}
	r.DB = db
	r.ActionRepo = persistence.NewActionRepo(db)

	if retention := r.Config.Journal.Retention.Std(); retention > 0 {
		pruned, err := PruneJournal(ctx, r.ActionRepo, retention, time.Now())
		if err != nil {
			slog.Warn("prune action journal", "error", err)
		} else if pruned > 0 {
			slog.Info("pruned action journal", "rows", pruned, "retention", retention)
		}
	}

	r.WriterQueue = persistence.NewWriterQueue(r.LogManager.Logger("persistence"), WriterCapacity)
	r.WriterQueue.Start(ctx)
	domain.StartJournalProjection(ctx, r.Bus, r.WriterQueue, r.ActionRepo)

	return nil
}

// PruneJournal removes journal rows that finished more than retention before now.
func PruneJournal(ctx context.Context, repo domain.ActionRepository, retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}

	return repo.PruneOlderThan(ctx, now.Add(-retention))
}

// Close stops the server, lets queued journal writes finish and releases the device.
func (r *Runtime) Close() error {
	var errs []error

	if r.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := r.Server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	// The dispatcher publishes on the bus and owns the device until it exits.
	if r.Dispatcher != nil {
		r.Dispatcher.Wait()
	}
	if r.WriterQueue != nil {
		r.WriterQueue.Wait()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal db: %w", err))
		}
	}
	if r.Lock != nil {
		if err := r.Lock.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return errors.Join(errs...)
}
