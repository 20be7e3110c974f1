package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/skobkin/xaescope/internal/app"
	"github.com/skobkin/xaescope/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run xaescope", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file (.json or .toml); defaults to the user config dir")
	listenAddr := flag.String("listen", "", "override server.listen_addr, e.g. :8081")
	writeDefault := flag.Bool("write-default-config", false, "write a default config to the config path and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Name, app.CurrentBuild())
		return nil
	}

	if *writeDefault {
		return writeDefaultConfig(*configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{ConfigPath: *configPath, ListenAddr: *listenAddr})
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	slog.Info("xaescope ready", "addr", rt.Server.Addr(), "device", rt.Config.Device.Program)

	<-ctx.Done()
	slog.Info("shutting down")

	return rt.Close()
}

func writeDefaultConfig(configPath string) error {
	paths, err := app.ResolvePaths(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(paths.ConfigFile); err == nil {
		return fmt.Errorf("config already exists: %s", paths.ConfigFile)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}

	if err := config.Save(paths.ConfigFile, config.Default()); err != nil {
		return err
	}
	fmt.Println(paths.ConfigFile)

	return nil
}
