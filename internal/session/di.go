package session

import (
	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
	"github.com/broadcomms/brainstormx-transcribe/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewRegistry(Options{
			Enabled:         cfg.TranscriptionEnabled,
			StaleAfter:      cfg.SessionStaleAfter,
			StopGrace:       cfg.SessionStopGrace,
			QueueSize:       cfg.AudioQueueSize,
			PersistPartials: cfg.PersistPartials,
		}, Dependencies{
			Providers:   do.MustInvoke[*transcriber.ProviderSet](i),
			Writer:      do.MustInvoke[repository.Repository](i),
			Broadcaster: do.MustInvoke[room.Broadcaster](i),
			Mute:        do.MustInvoke[room.MuteState](i),
			Authorizer:  do.MustInvoke[room.Authorizer](i),
			Webhook:     do.MustInvoke[webhook.Sender](i),
			Metrics:     do.MustInvoke[*metrics.Metrics](i),
		}), nil
	})
}
