package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/webhook"
)

const webhookTimeout = 10 * time.Second

// awaitStop waits for the result stream of a stopping session to terminate,
// bounded by the stop grace period. Exactly one of the two branches removes
// the entry.
func (r *Registry) awaitStop(st *state, reason string) {
	requested := r.now()
	timer := time.NewTimer(r.opts.StopGrace)
	defer timer.Stop()

	forced := false
	select {
	case <-st.done:
	case <-timer.C:
		forced = true
		slog.Warn("transcription session did not stop within grace period, forcing removal",
			"session_key", st.key.String(),
			"session_id", st.id,
			"grace", r.opts.StopGrace.String())
	}
	r.remove(st)
	r.report(st, reason, forced, requested)
}

// report delivers the stopped notification and the session summary.
func (r *Registry) report(st *state, reason string, forced bool, requested time.Time) {
	if !st.reported.CompareAndSwap(false, true) {
		return
	}
	ended := r.now()
	stopped := Stopped{
		SessionID:   st.id,
		Room:        st.key.Room,
		Participant: st.key.Participant,
		Partials:    st.partials.Load(),
		Finals:      st.finals.Load(),
		Forced:      forced,
	}
	if r.metrics != nil {
		label := reason
		if forced {
			label = reason + "_forced"
		}
		r.metrics.RecordStop(label, ended.Sub(requested).Seconds())
	}
	slog.Info("transcription session stopped",
		"session_key", st.key.String(),
		"session_id", st.id,
		"reason", reason,
		"forced", forced,
		"partials", stopped.Partials,
		"finals", stopped.Finals)

	if reason != stopReasonReplaced {
		r.notify().NotifyStopped(st.key, stopped)
	}
	st.markStopped()

	if r.webhook == nil {
		return
	}
	payload := webhook.SessionSummaryPayload{
		SessionID:   st.id,
		Room:        st.key.Room,
		Participant: st.key.Participant,
		Provider:    string(st.provider),
		Partials:    stopped.Partials,
		Finals:      stopped.Finals,
		Forced:      forced,
		StartedAt:   st.startedAt,
		EndedAt:     ended,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := r.webhook.SendSessionSummary(ctx, payload); err != nil {
			slog.Error("failed to send session summary webhook", "error", err, "session_key", st.key.String(), "session_id", st.id)
		}
	}()
}
