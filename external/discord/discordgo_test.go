package discord

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestSession(t *testing.T, rt roundTripFunc) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if rt != nil {
		s.Client = &http.Client{Transport: rt}
	}
	return s
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestSendChannelMessage_PostsContent(t *testing.T) {
	var got string
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/channels/mirror-1/messages") {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		got = body.Content
		return jsonResponse(http.StatusOK, `{"id":"m1","channel_id":"mirror-1","content":"ok"}`), nil
	})

	c := &Client{session: s}
	if err := c.SendChannelMessage("mirror-1", "**alice**: hello room"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "**alice**: hello room" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestSendChannelMessage_NotFound(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"message":"Unknown Channel","code":10003}`), nil
	})
	s.MaxRestRetries = 0

	c := &Client{session: s}
	err := c.SendChannelMessage("gone", "hello")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSendChannelMessage_RequiresSession(t *testing.T) {
	c := &Client{}
	if err := c.SendChannelMessage("mirror-1", "hello"); err == nil {
		t.Fatal("expected error without a session")
	}
}

func TestChannelName_UsesStateCacheFirst(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected REST call: %s %s", req.Method, req.URL.String())
		return nil, nil
	})
	if err := s.State.GuildAdd(&discordgo.Guild{
		ID:       "guild-1",
		Channels: []*discordgo.Channel{{ID: "mirror-1", GuildID: "guild-1", Name: "workshop-transcript"}},
	}); err != nil {
		t.Fatalf("failed to add guild to state: %v", err)
	}

	c := &Client{session: s}
	if name := c.ChannelName("mirror-1"); name != "workshop-transcript" {
		t.Fatalf("expected workshop-transcript, got %q", name)
	}
}

func TestChannelName_FallsBackToREST(t *testing.T) {
	s := newTestSession(t, func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/channels/mirror-2") {
			t.Fatalf("unexpected request path: %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"id":"mirror-2","name":"rest-channel","type":0}`), nil
	})

	c := &Client{session: s}
	if name := c.ChannelName("mirror-2"); name != "rest-channel" {
		t.Fatalf("expected rest-channel, got %q", name)
	}
}

func TestTruncateMessage(t *testing.T) {
	short := "hello"
	if truncateMessage(short) != short {
		t.Fatal("short messages must pass through")
	}
	long := strings.Repeat("あ", maxMessageLength+10)
	got := []rune(truncateMessage(long))
	if len(got) != maxMessageLength {
		t.Fatalf("expected %d runes, got %d", maxMessageLength, len(got))
	}
}
