package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"trade_sim/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(*configPath)
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 2. Pprof Server (for performance profiling)
	if addr := bootstrap.Config.Server.PprofAddr; addr != "" {
		go func() {
			// Localhost only for security
			slog.Info("🕵️ Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "✨ Trade simulator fully operational. Press Ctrl+C to exit.",
		slog.String("api", bootstrap.Config.Server.Addr),
		slog.String("feed", bootstrap.Config.Feed.WSURL),
	)

	// 4. Feed + API + refresh loop
	err := bootstrap.Run(ctx)

	slog.Info("👋 Shutting down gracefully...")
	if err != nil {
		slog.Error("❌ Run failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
}
