package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	broadcastimpl "github.com/broadcomms/brainstormx-transcribe/external/broadcast"
	configloader "github.com/broadcomms/brainstormx-transcribe/external/config"
	"github.com/broadcomms/brainstormx-transcribe/external/discord"
	"github.com/broadcomms/brainstormx-transcribe/external/httpserver"
	repositoryimpl "github.com/broadcomms/brainstormx-transcribe/external/repository"
	roomimpl "github.com/broadcomms/brainstormx-transcribe/external/room"
	transcriberimpl "github.com/broadcomms/brainstormx-transcribe/external/transcriber"
	"github.com/broadcomms/brainstormx-transcribe/external/transport/ws"
	webhookimpl "github.com/broadcomms/brainstormx-transcribe/external/webhook"
	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	discordpkg "github.com/broadcomms/brainstormx-transcribe/internal/discord"
	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/session"
	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"
)

const (
	discordConnectTimeout = 20 * time.Second
	stopAllTimeout        = 10 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "default_provider", cfg.DefaultProvider)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	if cfg.DiscordMirrorEnabled() {
		mustConnectDiscord(injector)
	}

	slog.Info("startup: starting transcription service")
	if err := run(injector); err != nil {
		slog.Error("service stopped with error", "error", err)
		shutdown(cfg, injector)
		os.Exit(1)
	}
	shutdown(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	metrics.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	roomimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	ws.RegisterDI(injector)
	broadcastimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	return injector
}

func mustConnectDiscord(injector do.Injector) {
	dc := do.MustInvoke[discordpkg.Client](injector)
	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		slog.Error("discord connect failed", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: discord connected")
}

func run(injector do.Injector) error {
	gateway, err := do.Invoke[*ws.Gateway](injector)
	if err != nil {
		return err
	}
	server, err := do.Invoke[*httpserver.Server](injector)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gateway.Run(ctx)
	})
	g.Go(func() error {
		return server.Run(ctx)
	})
	err = g.Wait()
	slog.Info("shutting down")
	return err
}

// shutdown stops sessions before closing the sinks they write to.
func shutdown(cfg *config.Config, injector do.Injector) {
	if registry, err := do.Invoke[*session.Registry](injector); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopAllTimeout)
		if err := registry.StopAll(ctx); err != nil {
			slog.Warn("sessions did not stop in time", "error", err)
		}
		cancel()
	}
	if sink, err := do.Invoke[*broadcastimpl.KafkaSink](injector); err == nil {
		if err := sink.Close(); err != nil {
			slog.Error("kafka sink close failed", "error", err)
		}
	}
	if cfg.DiscordMirrorEnabled() {
		if mirror, err := do.Invoke[*broadcastimpl.DiscordMirror](injector); err == nil {
			mirror.Close()
		}
		if dc, err := do.Invoke[discordpkg.Client](injector); err == nil {
			if err := dc.Close(); err != nil {
				slog.Error("discord close failed", "error", err)
			}
		}
	}
	if models, err := do.Invoke[*transcriberimpl.ModelRegistry](injector); err == nil {
		models.Close()
	}
	if repo, err := do.Invoke[repository.Repository](injector); err == nil {
		repo.Close()
	}
	if cfg.RedisURL != "" {
		if state, err := do.Invoke[*roomimpl.RedisRoomState](injector); err == nil {
			if err := state.Close(); err != nil {
				slog.Error("redis close failed", "error", err)
			}
		}
	}
	slog.Info("shutdown complete")
}
