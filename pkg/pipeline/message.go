package pipeline

import (
	"github.com/FrLars21/bioacoustics/pkg/rank"
)

// Type names an inbound message or outbound event.
type Type string

const (
	// Inbound.
	TypeInit    Type = "init"
	TypePredict Type = "predict"

	// Outbound.
	TypeReady  Type = "ready"
	TypeStatus Type = "status"
	TypeResult Type = "result"
	TypeError  Type = "error"
)

// Status messages emitted around a prediction request.
const (
	StatusStarting = "predictions starting"
	StatusComplete = "predictions complete"
)

// ErrorCode classifies error events for clients.
type ErrorCode string

const (
	CodeNotInitialized ErrorCode = "not_initialized"
	CodeInitializing   ErrorCode = "initializing"
	CodeInitFailed     ErrorCode = "init_failed"
	CodeInvalidAudio   ErrorCode = "invalid_audio"
	CodeAudioTooLong   ErrorCode = "audio_too_long"
	CodeCanceled       ErrorCode = "canceled"
	CodeBadRequest     ErrorCode = "bad_request"
	CodeInternal       ErrorCode = "internal"
)

// Message is an inbound request.
type Message struct {
	Type Type `json:"type" msgpack:"type"`

	// ID correlates events with the request. A random id is assigned when
	// empty.
	ID string `json:"id,omitempty" msgpack:"id,omitempty"`

	// Audio is required for predict.
	Audio *Audio `json:"audioData,omitempty" msgpack:"audioData,omitempty"`
}

// Audio is a mono sample buffer.
type Audio struct {
	SampleRate int `json:"sampleRate" msgpack:"sampleRate"`

	// Length is the number of valid samples in ChannelData. Zero means
	// all of ChannelData, so an explicit zero length with samples still
	// classifies the whole buffer; send empty ChannelData for no chunks.
	Length int `json:"length" msgpack:"length"`

	ChannelData []float32 `json:"channelData" msgpack:"channelData"`
}

// Event is an outbound notification.
type Event struct {
	Type    Type      `json:"type" msgpack:"type"`
	ID      string    `json:"id,omitempty" msgpack:"id,omitempty"`
	Message string    `json:"message,omitempty" msgpack:"message,omitempty"`
	Code    ErrorCode `json:"code,omitempty" msgpack:"code,omitempty"`

	// ChunkIndex and Results are set on result events.
	ChunkIndex *int              `json:"chunkIndex,omitempty" msgpack:"chunkIndex,omitempty"`
	Results    []rank.Prediction `json:"results,omitempty" msgpack:"results,omitempty"`

	// Chunks is the chunk count, set on status events of a predict request.
	Chunks int `json:"chunks,omitempty" msgpack:"chunks,omitempty"`
}

// Sink receives events. Returning an error aborts the current request.
type Sink func(Event) error

// Discard is a Sink that drops every event.
func Discard(Event) error { return nil }
