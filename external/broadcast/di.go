package broadcast

import (
	"log/slog"

	"github.com/broadcomms/brainstormx-transcribe/external/transport/ws"
	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	discordpkg "github.com/broadcomms/brainstormx-transcribe/internal/discord"
	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*KafkaSink, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewKafkaSink(KafkaConfig{
			Brokers:      c.KafkaBrokers,
			TopicPartial: c.KafkaTopicPartial,
			TopicFinal:   c.KafkaTopicFinal,
		}, do.MustInvoke[*metrics.Metrics](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (room.Broadcaster, error) {
		c := do.MustInvoke[*config.Config](i)
		sinks := room.Fanout{
			do.MustInvoke[*ws.Hub](i),
			do.MustInvoke[*KafkaSink](i),
		}
		if c.DiscordMirrorEnabled() {
			client := do.MustInvoke[discordpkg.Client](i)
			slog.Info("mirroring finals to discord", "channel_id", c.DiscordMirrorChannelID, "channel_name", client.ChannelName(c.DiscordMirrorChannelID))
			sinks = append(sinks, do.MustInvoke[*DiscordMirror](i))
		}
		return sinks, nil
	})
	do.Provide(injector, func(i do.Injector) (*DiscordMirror, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewDiscordMirror(do.MustInvoke[discordpkg.Client](i), c.DiscordMirrorChannelID, do.MustInvoke[*metrics.Metrics](i)), nil
	})
}
