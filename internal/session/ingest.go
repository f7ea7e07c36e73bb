package session

import (
	"errors"
	"log/slog"

	"github.com/broadcomms/brainstormx-transcribe/internal/mailbox"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
)

// admit applies the sequence guard. Equal sequence numbers are accepted.
func (st *state) admit(seq int64) bool {
	st.seqMu.Lock()
	defer st.seqMu.Unlock()
	if st.hasSeq && seq < st.highWater {
		return false
	}
	st.highWater = seq
	st.hasSeq = true
	return true
}

func (r *Registry) ingest(st *state, seq int64, data []byte) {
	if !st.admit(seq) {
		r.recordChunkDropped("out_of_order")
		slog.Debug("dropping out-of-order audio chunk", "session_key", st.key.String(), "seq", seq)
		return
	}
	st.touch(r.now())
	switch err := st.inbox.TrySend(data); {
	case errors.Is(err, mailbox.ErrFull):
		r.recordChunkDropped("queue_full")
		slog.Warn("audio queue full, dropping chunk", "session_key", st.key.String(), "seq", seq, "queue_size", r.opts.QueueSize)
	case errors.Is(err, mailbox.ErrClosed):
		r.recordChunkDropped("closed")
	}
}

// runIngest owns the receive side of the session inbox and is the only
// goroutine that writes to the engine stream.
func (r *Registry) runIngest(st *state) {
	var writeErrors int
	for chunk := range st.inbox.Receive() {
		if err := st.stream.Write(chunk); err != nil {
			writeErrors++
			if errors.Is(err, transcriber.ErrStreamNotOpen) {
				r.recordChunkDropped("stream_closed")
				continue
			}
			r.recordChunkDropped("write_failed")
			if writeErrors == 1 || writeErrors%100 == 0 {
				slog.Warn("failed to write audio to transcription stream", "error", err, "session_key", st.key.String(), "session_id", st.id, "write_errors", writeErrors)
			}
			continue
		}
		if r.metrics != nil {
			r.metrics.ChunksAccepted.Inc()
		}
	}
	slog.Debug("audio ingest loop stopped", "session_key", st.key.String(), "session_id", st.id, "write_errors", writeErrors)
}
