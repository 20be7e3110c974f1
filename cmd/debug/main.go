package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/skobkin/xaescope/internal/app"
	"github.com/skobkin/xaescope/internal/bus"
	"github.com/skobkin/xaescope/internal/command"
	"github.com/skobkin/xaescope/internal/config"
	"github.com/skobkin/xaescope/internal/device"
	"github.com/skobkin/xaescope/internal/dispatch"
	"github.com/skobkin/xaescope/internal/events"
	"github.com/skobkin/xaescope/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file; defaults to the user config dir")
	program := flag.String("program", "", "override device.program")
	dryRun := flag.Bool("dry-run", false, "print the invocation lines without running them")
	flag.Parse()

	input := strings.Join(flag.Args(), " ")

	paths, err := app.ResolvePaths(*configPath)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if p := strings.TrimSpace(*program); p != "" {
		cfg.Device.Program = p
	}

	cmd, parseErr := command.Parse(input)
	if *dryRun {
		if parseErr != nil {
			fmt.Fprintln(os.Stderr, "warning:", parseErr)
		}
		for _, line := range invocationLines(cfg.Device, command.Translate(cmd)) {
			fmt.Println(line)
		}
		return nil
	}

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting xaescope debug", "version", app.CurrentBuild().Version, "device", cfg.Device.Program)
	if parseErr != nil {
		logger.Warn("command treated as capture-only", "error", parseErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(logMgr.Logger("bus"), 0)
	defer b.Close()
	watch(ctx, b, logger)

	invoker := device.NewExecInvoker(logMgr.Logger("device"), device.ExecOptions{
		Program: cfg.Device.Program,
		Args:    cfg.Device.Args,
		Dir:     cfg.Device.WorkDir,
		Timeout: cfg.Device.InvokeTimeout.Std(),
	})
	d := dispatch.New(logMgr.Logger("dispatch"), b, invoker, dispatch.Options{QueueCapacity: 1})
	d.Start(ctx)

	results, err := d.Submit(ctx, "cli", cmd)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-results:
		if len(res.Capture) > 0 {
			_, _ = os.Stdout.Write(res.Capture)
		}
		if res.Err != nil {
			return fmt.Errorf("%s: %w", res.Outcome(), res.Err)
		}
	}

	return nil
}

func invocationLines(cfg config.DeviceConfig, seq device.Sequence) []string {
	lines := make([]string, 0, len(seq))
	for _, op := range seq {
		argv := append(append([]string(nil), cfg.Args...), op.Argv()...)
		lines = append(lines, device.CommandLine(cfg.Program, argv))
	}
	return lines
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	bus.Listen(ctx, b, events.TopicDeviceStatus, func(status events.DeviceStatus) {
		logger.Info("device", "state", status.State, "queue_depth", status.QueueDepth)
	})
	bus.Listen(ctx, b, events.TopicActionCompleted, func(done events.ActionCompleted) {
		logger.Info("action", "command", done.Command, "outcome", done.Outcome, "capture_len", done.CaptureLen, "elapsed", done.FinishedAt.Sub(done.StartedAt))
	})
}
