package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
)

const persistTimeout = 5 * time.Second

// emitter is the single consumer of one session's result stream.
type emitter struct {
	reg *Registry
	st  *state

	lastPartial  string
	inProgressID string
}

func (r *Registry) runEmitter(st *state) {
	e := &emitter{reg: r, st: st}
	for ev := range st.stream.Results() {
		switch ev.Kind {
		case transcriber.EventFinal:
			e.handleFinal(ev)
		default:
			e.handlePartial(ev)
		}
	}
	st.finishResults()

	err := st.stream.Err()
	r.mu.Lock()
	stopping := st.status == StatusStopping
	r.mu.Unlock()
	if stopping {
		return
	}
	if err != nil {
		r.fail(st, err)
		return
	}
	// The engine ended the stream on its own.
	slog.Info("transcription stream ended", "session_key", st.key.String(), "session_id", st.id)
	if r.remove(st) {
		st.inbox.Close()
		r.report(st, stopReasonEnded, false, r.now())
	}
}

// fail tears down a session whose stream faulted mid-flight.
func (r *Registry) fail(st *state, err error) {
	st.faulted.Store(true)
	terr := transcriber.Wrap(transcriber.CodeProviderError, "transcription stream failed", err)
	r.recordProviderError(st.provider, terr.Code)
	slog.Error("transcription stream failed", "error", err, "code", string(terr.Code), "session_key", st.key.String(), "session_id", st.id)

	if !r.remove(st) {
		return
	}
	st.inbox.Close()
	go func() {
		if cerr := st.stream.Close(); cerr != nil {
			slog.Warn("failed to close faulted stream", "error", cerr, "session_key", st.key.String())
		}
	}()
	r.rooms.Emit(room.EventError, room.ErrorPayload{
		Room:    st.key.Room,
		Code:    string(terr.Code),
		Message: terr.Message,
		Hint:    terr.Code.Hint(),
	}, st.key.Room)
	r.notify().NotifyError(st.key, st.id, terr)
	r.report(st, stopReasonFault, false, r.now())
}

func (e *emitter) muted() bool {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if e.reg.mute.IsActive(ctx, e.st.key.Room) {
		if e.reg.metrics != nil {
			e.reg.metrics.EventsMuted.Inc()
		}
		return true
	}
	return false
}

func (e *emitter) handlePartial(ev transcriber.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	if e.muted() {
		return
	}
	if text == e.lastPartial {
		if e.reg.metrics != nil {
			e.reg.metrics.PartialsDeduped.Inc()
		}
		return
	}
	e.lastPartial = text

	if e.reg.opts.PersistPartials && e.reg.writer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		id, err := e.reg.writer.RecordPartial(ctx, repository.RecordPartialInput{
			RoomID:      e.st.key.Room,
			Participant: e.st.key.Participant,
			Provider:    string(e.st.provider),
			Text:        text,
			ExistingID:  e.inProgressID,
		})
		cancel()
		if err != nil {
			e.persistFailed("partial", err)
		} else {
			e.inProgressID = id
		}
	}

	e.reg.rooms.Emit(room.EventPartial, room.PartialPayload{
		Room:        e.st.key.Room,
		Participant: e.st.key.Participant,
		Text:        text,
		StartTime:   seconds(ev.StartTime),
	}, e.st.key.Room)
	e.st.partials.Add(1)
	if e.reg.metrics != nil {
		e.reg.metrics.PartialsEmitted.Inc()
	}
}

func (e *emitter) handleFinal(ev transcriber.Event) {
	e.lastPartial = ""
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	// A dropped final leaves the in-progress row for the next final.
	if e.muted() {
		return
	}
	existingID := e.inProgressID
	e.inProgressID = ""
	if e.reg.writer == nil {
		e.persistFailed("final", errors.New("no transcript writer configured"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	id, err := e.reg.writer.RecordFinal(ctx, repository.RecordFinalInput{
		RoomID:            e.st.key.Room,
		Participant:       e.st.key.Participant,
		Provider:          string(e.st.provider),
		Text:              text,
		StartTime:         ev.StartTime,
		EndTime:           ev.EndTime,
		Words:             repositoryWords(ev.Words),
		ExistingPartialID: existingID,
	})
	cancel()
	if err != nil {
		e.persistFailed("final", err)
		return
	}

	e.reg.rooms.Emit(room.EventFinal, room.FinalPayload{
		Room:         e.st.key.Room,
		Participant:  e.st.key.Participant,
		TranscriptID: id,
		Text:         text,
		StartTime:    seconds(ev.StartTime),
		EndTime:      seconds(ev.EndTime),
		Words:        roomWords(ev.Words),
	}, e.st.key.Room)
	e.st.finals.Add(1)
	if e.reg.metrics != nil {
		e.reg.metrics.FinalsPersisted.Inc()
	}
}

func (e *emitter) persistFailed(kind string, err error) {
	if e.reg.metrics != nil {
		e.reg.metrics.RecordPersistError(kind)
	}
	slog.Error("failed to persist transcript", "error", err, "kind", kind, "session_key", e.st.key.String(), "session_id", e.st.id)
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}

func repositoryWords(words []transcriber.Word) []repository.Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]repository.Word, 0, len(words))
	for _, w := range words {
		out = append(out, repository.Word{Text: w.Text, StartTime: w.StartTime.Seconds(), EndTime: w.EndTime.Seconds()})
	}
	return out
}

func roomWords(words []transcriber.Word) []room.WordPayload {
	if len(words) == 0 {
		return nil
	}
	out := make([]room.WordPayload, 0, len(words))
	for _, w := range words {
		out = append(out, room.WordPayload{Text: w.Text, StartTime: w.StartTime.Seconds(), EndTime: w.EndTime.Seconds()})
	}
	return out
}
