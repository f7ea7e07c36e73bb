package session

import (
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/room"
	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
)

func TestEmitter_DeduplicatesPartials(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.start(t, false)
	stream := env.provider.stream(0)

	for _, ev := range []transcriber.Event{
		transcriber.Partial("the"),
		transcriber.Partial("the"),
		transcriber.Partial("the quick"),
		transcriber.Partial("the quick"),
		transcriber.Final("the quick fox"),
		transcriber.Partial("the quick"),
	} {
		stream.emit(ev)
	}

	want := []string{"the", "the quick", "the quick"}
	waitUntil(t, time.Second, func() bool { return len(env.broadcaster.partialTexts()) == len(want) }, "expected deduplicated partials")
	if got := env.broadcaster.partialTexts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected partials: got %v want %v", got, want)
	}
}

func TestEmitter_FinalBroadcastOnlyAfterPersist(t *testing.T) {
	env := newTestEnv(t, Options{})
	var violations atomic.Int32
	env.broadcaster.onEmit = func(e emitted) {
		if e.event != room.EventFinal {
			return
		}
		payload := e.payload.(room.FinalPayload)
		if !env.writer.hasFinal(payload.TranscriptID) {
			violations.Add(1)
		}
	}
	env.start(t, false)
	stream := env.provider.stream(0)

	start := 1200 * time.Millisecond
	end := 2 * time.Second
	stream.emit(transcriber.Event{
		Kind:      transcriber.EventFinal,
		Text:      "hello world",
		StartTime: &start,
		EndTime:   &end,
		Words: []transcriber.Word{
			{Text: "hello", StartTime: start, EndTime: 1500 * time.Millisecond},
			{Text: "world", StartTime: 1500 * time.Millisecond, EndTime: end},
		},
	})

	waitUntil(t, time.Second, func() bool { return len(env.broadcaster.byEvent(room.EventFinal)) == 1 }, "final should be broadcast")
	if violations.Load() != 0 {
		t.Fatal("final was broadcast before its record existed")
	}
	payload := env.broadcaster.byEvent(room.EventFinal)[0].payload.(room.FinalPayload)
	if payload.TranscriptID == "" || payload.Text != "hello world" {
		t.Fatalf("unexpected final payload: %+v", payload)
	}
	if payload.StartTime == nil || *payload.StartTime != 1.2 || payload.EndTime == nil || *payload.EndTime != 2 {
		t.Fatalf("unexpected timing: %+v", payload)
	}
	if len(payload.Words) != 2 || payload.Words[1].Text != "world" {
		t.Fatalf("unexpected words: %+v", payload.Words)
	}
}

func TestEmitter_PersistFailureSkipsBroadcast(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.writer.failFinal = errBoom
	env.start(t, false)
	stream := env.provider.stream(0)

	stream.emit(transcriber.Final("lost"))
	stream.emit(transcriber.Partial("still running"))

	waitUntil(t, time.Second, func() bool { return len(env.broadcaster.partialTexts()) == 1 }, "emitter should keep running after a persistence failure")
	if n := len(env.broadcaster.byEvent(room.EventFinal)); n != 0 {
		t.Fatalf("unpersisted final must not be broadcast, got %d", n)
	}
}

func TestEmitter_MutedEventsAreDropped(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.start(t, false)
	stream := env.provider.stream(0)

	env.mute.active.Store(true)
	stream.emit(transcriber.Partial("narration"))
	stream.emit(transcriber.Final("narration text"))
	waitUntil(t, time.Second, func() bool { return env.mute.calls.Load() == 2 }, "muted events should be checked")
	env.mute.active.Store(false)
	stream.emit(transcriber.Partial("after"))

	waitUntil(t, time.Second, func() bool { return len(env.broadcaster.partialTexts()) == 1 }, "unmuted partial should be broadcast")
	if got := env.broadcaster.partialTexts(); got[0] != "after" {
		t.Fatalf("unexpected partial: %v", got)
	}
	if env.writer.finalCount() != 0 {
		t.Fatal("muted final must not be persisted")
	}
}

func TestEmitter_PersistPartialsFinalizesInPlace(t *testing.T) {
	env := newTestEnv(t, Options{PersistPartials: true})
	env.start(t, false)
	stream := env.provider.stream(0)

	stream.emit(transcriber.Partial("good"))
	stream.emit(transcriber.Partial("good morning"))
	stream.emit(transcriber.Final("good morning everyone"))

	waitUntil(t, time.Second, func() bool { return env.writer.finalCount() == 1 }, "final should be persisted")

	env.writer.mu.Lock()
	defer env.writer.mu.Unlock()
	if len(env.writer.partials) != 2 {
		t.Fatalf("expected two partial writes, got %d", len(env.writer.partials))
	}
	if env.writer.partials[0].ExistingID != "" || env.writer.partials[1].ExistingID != "utt-1" {
		t.Fatalf("partials should update one in-progress record: %+v", env.writer.partials)
	}
	if env.writer.finals[0].ExistingPartialID != "utt-1" {
		t.Fatalf("final should finalize the in-progress record, got %q", env.writer.finals[0].ExistingPartialID)
	}
}

func TestEmitter_MutedFinalKeepsInProgressRecord(t *testing.T) {
	env := newTestEnv(t, Options{PersistPartials: true})
	env.start(t, false)
	stream := env.provider.stream(0)

	stream.emit(transcriber.Partial("draft"))
	waitUntil(t, time.Second, func() bool { return len(env.broadcaster.partialTexts()) == 1 }, "partial should be recorded")

	env.mute.active.Store(true)
	stream.emit(transcriber.Final("draft under mute"))
	waitUntil(t, time.Second, func() bool { return env.mute.calls.Load() == 2 }, "muted final should be checked")
	env.mute.active.Store(false)
	stream.emit(transcriber.Final("draft after mute"))

	waitUntil(t, time.Second, func() bool { return env.writer.finalCount() == 1 }, "unmuted final should be persisted")
	env.writer.mu.Lock()
	defer env.writer.mu.Unlock()
	if len(env.writer.partials) != 1 {
		t.Fatalf("expected one partial write, got %d", len(env.writer.partials))
	}
	if got := env.writer.finals[0]; got.ExistingPartialID != "utt-1" || got.Text != "draft after mute" {
		t.Fatalf("final should finalize the row left by the muted final: %+v", got)
	}
	if !env.writer.finalIDs["utt-1"] {
		t.Fatal("in-progress record should be finalized")
	}
}
