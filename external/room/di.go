package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/samber/do/v2"
)

const redisInitTimeout = 5 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*RedisRoomState, error) {
		c := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), redisInitTimeout)
		defer cancel()
		return NewRedisRoomState(ctx, c.RedisURL, "")
	})
	do.Provide(injector, func(i do.Injector) (room.MuteState, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.RedisURL == "" {
			slog.Info("redis not configured; narration muting disabled")
			return room.NoMute(), nil
		}
		return do.Invoke[*RedisRoomState](i)
	})
	do.Provide(injector, func(i do.Injector) (room.Authorizer, error) {
		c := do.MustInvoke[*config.Config](i)
		if !c.RequireAuthorization {
			return room.AllowAll(), nil
		}
		return do.Invoke[*RedisRoomState](i)
	})
	do.Provide(injector, func(i do.Injector) (room.Controller, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.RedisURL == "" {
			return nil, nil
		}
		return do.Invoke[*RedisRoomState](i)
	})
}
