package ws

import (
	"log/slog"

	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
	"github.com/broadcomms/brainstormx-transcribe/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Hub, error) {
		return NewHub(do.MustInvoke[*metrics.Metrics](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*Tokens, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.JWTSecret == "" {
			slog.Warn("JWT_SECRET not set; websocket connections are anonymous")
			return nil, nil
		}
		return NewTokens(c.JWTSecret, c.TokenTTL)
	})
	do.Provide(injector, func(i do.Injector) (*Gateway, error) {
		return NewGateway(
			do.MustInvoke[*session.Registry](i),
			do.MustInvoke[*Hub](i),
			do.MustInvoke[*Tokens](i),
		), nil
	})
}
