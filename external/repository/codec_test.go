package repository

import (
	"testing"
	"time"
)

func TestEncodeWordsEmptyIsArray(t *testing.T) {
	b, err := encodeWords(nil)
	if err != nil {
		t.Fatalf("encodeWords error: %v", err)
	}
	if string(b) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", b)
	}
	words, err := decodeWords(b)
	if err != nil || len(words) != 0 {
		t.Fatalf("unexpected decode: %v %v", words, err)
	}
}

func TestSecondsAndDurationRoundTrip(t *testing.T) {
	if seconds(nil) != nil || duration(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	d := 2250 * time.Millisecond
	s := seconds(&d)
	if *s != 2.25 {
		t.Fatalf("unexpected seconds: %v", *s)
	}
	if got := duration(s); *got != d {
		t.Fatalf("unexpected duration: %s", *got)
	}
	if _, err := decodeWords([]byte("{")); err == nil {
		t.Fatal("malformed words should fail to decode")
	}
}
