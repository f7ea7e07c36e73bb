package httpserver

import (
	"github.com/broadcomms/brainstormx-transcribe/external/transport/ws"
	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/broadcomms/brainstormx-transcribe/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		c := do.MustInvoke[*config.Config](i)
		router := NewRouter(Options{
			Development: c.IsDevelopment(),
			AdminAPIKey: c.AdminAPIKey,
			Gateway:     do.MustInvoke[*ws.Gateway](i),
			Sessions:    do.MustInvoke[*session.Registry](i),
			Gatherer:    do.MustInvoke[*prometheus.Registry](i),
			Tokens:      do.MustInvoke[*ws.Tokens](i),
			Rooms:       do.MustInvoke[room.Controller](i),
			Transcripts: do.MustInvoke[repository.Repository](i),
		})
		return NewServer(c.HTTPAddr, router), nil
	})
}
