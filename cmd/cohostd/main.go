// Command cohostd is a demonstration harness for the cohost core: it
// loads a YAML configuration, opens the backing file and a single
// connection, maps its shared region, and then runs a tick loop and a
// loop that logs whatever arrives on the VTTY RX ring, until it is
// signaled to stop. It calls the connection's typed methods directly,
// not Dispatch, and issues no VBLK requests. It is not an OS driver:
// there is no device registration, no console shell, and no
// networking.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cohost-project/cohost/internal/config"
	"github.com/cohost-project/cohost/internal/ioctl"
	"github.com/cohost-project/cohost/internal/ring"
	"github.com/cohost-project/cohost/internal/vblk"
)

func main() {
	var cfgPath string
	fs := flag.NewFlagSet("cohostd", flag.ExitOnError)
	fs.StringVar(&cfgPath, "config", "cohostd.yaml", "path to YAML configuration")

	cfg := &config.Config{Pages: 128, BackingFile: "cohostd.img"}
	applyFlags := config.BindFlags(fs, cfg)
	_ = fs.Parse(os.Args[1:])
	applyFlags()

	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			slog.Error("failed to load config", slog.Any("error", err))
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("cohostd starting",
		slog.Int("pages", cfg.Pages),
		slog.String("backing_file", cfg.BackingFile),
		slog.Int("vtty_capacity", cfg.VTTYCapacity),
	)

	backing := vblk.NewBacking()
	if err := backing.SetBacking(cfg.BackingFile); err != nil {
		logger.Error("failed to open backing file", slog.Any("error", err))
		os.Exit(1)
	}
	defer backing.Close()

	engine := vblk.NewEngine(backing)
	conn := ioctl.NewConnection(engine)
	defer conn.Close()

	if _, err := conn.MapShared(cfg.Pages); err != nil {
		logger.Error("map_shared failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shared region mapped", slog.String("state", conn.State().String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tickLoop(ctx, conn, logger) })

	pages := (ring.VTTYRxOff + ring.VTTYHeaderLen + cfg.VTTYCapacity) / ring.PageSize
	if cfg.Pages > pages {
		g.Go(func() error { return vttyEchoLoop(ctx, conn, logger) })
	} else {
		logger.Warn("configured page count too small for VTTY zones; skipping echo loop",
			slog.Int("pages", cfg.Pages), slog.Int("pages_needed", pages+1))
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("harness loop exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("cohostd shutting down")
}

func tickLoop(ctx context.Context, conn *ioctl.Connection, logger *slog.Logger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := conn.RunTick()
			if err != nil {
				return err
			}
			logger.Debug("tick", slog.Uint64("tick_count", res.TickCount))
		}
	}
}

func vttyEchoLoop(ctx context.Context, conn *ioctl.Connection, logger *slog.Logger) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := conn.VTTYPull(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		logger.Info("vtty data from guest", slog.String("data", string(buf[:n])))
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
