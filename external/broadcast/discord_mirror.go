package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	discordpkg "github.com/broadcomms/brainstormx-transcribe/internal/discord"
	"github.com/broadcomms/brainstormx-transcribe/internal/mailbox"
	"github.com/broadcomms/brainstormx-transcribe/internal/metrics"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
)

const (
	mirrorQueueSize = 128
	sinkDiscord     = "discord"
)

// DiscordMirror posts committed transcript lines to one text channel.
type DiscordMirror struct {
	client    discordpkg.Client
	channelID string
	metrics   *metrics.Metrics

	inbox *mailbox.Mailbox[room.FinalPayload]
	done  chan struct{}
	once  sync.Once
}

func NewDiscordMirror(client discordpkg.Client, channelID string, m *metrics.Metrics) *DiscordMirror {
	d := &DiscordMirror{
		client:    client,
		channelID: channelID,
		metrics:   m,
		inbox:     mailbox.New[room.FinalPayload](mirrorQueueSize),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *DiscordMirror) Emit(event string, payload any, _ string) {
	if event != room.EventFinal {
		return
	}
	final, ok := payload.(room.FinalPayload)
	if !ok {
		return
	}
	if err := d.inbox.TrySend(final); errors.Is(err, mailbox.ErrFull) {
		slog.Warn("discord mirror queue full; dropping line", "room", final.Room, "transcript_id", final.TranscriptID)
		d.metrics.RecordSinkDelivery(sinkDiscord, "dropped")
	}
}

func (d *DiscordMirror) run() {
	defer close(d.done)
	for final := range d.inbox.Receive() {
		if err := d.client.SendChannelMessage(d.channelID, formatMirrorLine(final)); err != nil {
			slog.Error("failed to mirror transcript line", "error", err, "channel_id", d.channelID, "room", final.Room)
			d.metrics.RecordSinkDelivery(sinkDiscord, "error")
			continue
		}
		d.metrics.RecordSinkDelivery(sinkDiscord, "ok")
	}
}

func formatMirrorLine(p room.FinalPayload) string {
	return fmt.Sprintf("[%s] **%s**: %s", p.Room, p.Participant, p.Text)
}

// Close drains queued lines. The Discord session is closed by its owner.
func (d *DiscordMirror) Close() {
	d.once.Do(func() {
		d.inbox.Close()
		<-d.done
	})
}
