package ws

import (
	"encoding/json"
	"errors"

	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
)

const (
	msgStart      = "start"
	msgAudioChunk = "audioChunk"
	msgStop       = "stop"
	msgJoin       = "join"

	replyReady   = "ready"
	replyError   = "error"
	replyStopAck = "stopAck"
	replyStopped = "stopped"
	replyJoined  = "joined"

	// codeBadRequest covers protocol errors outside the transcription taxonomy.
	codeBadRequest = "bad_request"

	// binaryHeaderSize is the big-endian sequence number prefixed to binary
	// audio frames.
	binaryHeaderSize = 8
)

type inboundMessage struct {
	Type                 string `json:"type"`
	RequestID            string `json:"requestId,omitempty"`
	Room                 string `json:"room"`
	Participant          string `json:"participant"`
	Language             string `json:"language,omitempty"`
	SampleRateHz         int    `json:"sampleRateHz,omitempty"`
	Provider             string `json:"provider,omitempty"`
	VocabularyName       string `json:"vocabularyName,omitempty"`
	VocabularyFilterName string `json:"vocabularyFilterName,omitempty"`
	Force                bool   `json:"force,omitempty"`
	Seq                  int64  `json:"seq,omitempty"`
	// PCM is base64-encoded 16-bit little-endian mono audio.
	PCM string `json:"pcm,omitempty"`
}

type outboundMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type errorReply struct {
	Room    string   `json:"room,omitempty"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Hint    string   `json:"hint,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

type joinedReply struct {
	Room string `json:"room"`
}

func encode(msg outboundMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func newErrorReply(roomID string, err error) errorReply {
	var typed *transcriber.Error
	if errors.As(err, &typed) {
		return errorReply{
			Room:    roomID,
			Code:    string(typed.Code),
			Message: typed.Message,
			Hint:    typed.Code.Hint(),
			Missing: typed.Missing,
		}
	}
	return errorReply{Room: roomID, Code: codeBadRequest, Message: err.Error()}
}
