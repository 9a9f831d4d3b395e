// Package transcribe wraps a streaming speech-recognition session and
// turns engine callbacks into ordered transcript events.
package transcribe

import "context"

// EngineEventKind classifies output from the speech engine.
type EngineEventKind string

const (
	EngineEventPartial EngineEventKind = "partial"
	EngineEventFinal   EngineEventKind = "final"
	EngineEventError   EngineEventKind = "error"
)

// EngineEvent is one recognition callback from the engine.
type EngineEvent struct {
	Kind EngineEventKind
	Text string
}

// EngineSession is one active streaming recognition session.
//
// SendAudio pushes raw PCM into the engine's streaming input. CloseSend
// flushes the input; the engine finishes pending recognition and then
// closes Events. Close tears the session down unconditionally.
type EngineSession interface {
	SendAudio(frame []byte) error
	CloseSend() error
	Events() <-chan EngineEvent
	Close() error
}

// Engine opens streaming recognition sessions. The engine is external; this
// interface is the whole contract the pipeline depends on.
type Engine interface {
	StartStreaming(ctx context.Context, cfg StreamConfig) (EngineSession, error)
}

// StreamConfig describes the fixed audio format of a call's media stream.
type StreamConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}
