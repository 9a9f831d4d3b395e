package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"meetingbot-platform/internal/audio"
	"meetingbot-platform/internal/calls"
	"meetingbot-platform/internal/metrics"
	"meetingbot-platform/internal/publish"
	"meetingbot-platform/internal/transcribe"
)

// PipelineFactory builds the per-call audio/transcript machinery. The
// orchestrator constructs a pipeline before a session becomes reachable,
// so no audio frame can arrive before a transcriber exists.
type PipelineFactory interface {
	Build(callID string) (calls.Pipeline, error)
}

// PipelineConfig sizes one call's pipeline.
type PipelineConfig struct {
	AudioQueueDepth int
	Stream          transcribe.StreamConfig
	Publish         publish.QueueConfig
	DrainTimeout    time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	out := c
	if out.AudioQueueDepth <= 0 {
		out.AudioQueueDepth = 50
	}
	if out.DrainTimeout <= 0 {
		out.DrainTimeout = 10 * time.Second
	}
	if out.Stream.SampleRate <= 0 {
		out.Stream.SampleRate = 16000
	}
	if out.Stream.Channels <= 0 {
		out.Stream.Channels = 1
	}
	if out.Stream.Encoding == "" {
		out.Stream.Encoding = "linear16"
	}
	return out
}

type pipelineFactory struct {
	rootCtx context.Context
	engine  transcribe.Engine
	sink    publish.Sink
	dead    publish.DeadLetter
	stats   *metrics.Collector
	cfg     PipelineConfig
	log     *slog.Logger
}

// NewPipelineFactory wires the shared collaborators every call pipeline
// uses. rootCtx bounds the lifetime of all consumer goroutines; it should
// be the process lifecycle context, not a request context.
func NewPipelineFactory(rootCtx context.Context, engine transcribe.Engine, sink publish.Sink, dead publish.DeadLetter, stats *metrics.Collector, cfg PipelineConfig, log *slog.Logger) PipelineFactory {
	if log == nil {
		log = slog.Default()
	}
	return &pipelineFactory{
		rootCtx: rootCtx,
		engine:  engine,
		sink:    sink,
		dead:    dead,
		stats:   stats,
		cfg:     cfg.withDefaults(),
		log:     log,
	}
}

func (f *pipelineFactory) Build(callID string) (calls.Pipeline, error) {
	opts := []publish.QueueOption{publish.WithMetrics(f.stats)}
	if f.dead != nil {
		opts = append(opts, publish.WithDeadLetter(f.dead))
	}
	queue := publish.NewQueue(callID, f.sink, f.cfg.Publish, f.log, opts...)
	queue.Start(f.rootCtx)

	tr := transcribe.New(callID, f.engine, f.cfg.Stream, queue.Enqueue, f.log)
	if err := tr.Start(f.rootCtx); err != nil {
		// The queue already carries the session_started failure context in
		// logs; drain whatever was enqueued and give up.
		drainCtx, cancel := context.WithTimeout(f.rootCtx, time.Second)
		defer cancel()
		queue.Drain(drainCtx)
		return nil, err
	}

	bridge := audio.NewBridge(f.cfg.AudioQueueDepth, &frameSink{tr: tr, stats: f.stats}, f.log)
	bridge.Start(f.rootCtx)

	return &callPipeline{
		bridge:       bridge,
		tr:           tr,
		queue:        queue,
		stats:        f.stats,
		drainTimeout: f.cfg.DrainTimeout,
	}, nil
}

// frameSink adapts the transcriber to the bridge's consumer contract.
type frameSink struct {
	tr    *transcribe.Transcriber
	stats *metrics.Collector
}

func (s *frameSink) WriteFrame(ctx context.Context, frame []byte) error {
	return s.tr.WriteFrame(ctx, frame)
}

func (s *frameSink) NoteFrameDropped() {
	s.stats.FrameDropped()
	s.tr.NoteFrameDropped()
}

type callPipeline struct {
	bridge       *audio.Bridge
	tr           *transcribe.Transcriber
	queue        *publish.Queue
	stats        *metrics.Collector
	drainTimeout time.Duration
}

func (p *callPipeline) PushAudio(frame []byte) {
	p.stats.FrameReceived()
	p.bridge.Push(frame)
}

func (p *callPipeline) CloseIntake() {
	p.bridge.Close()
}

func (p *callPipeline) StopTranscription(ctx context.Context) {
	// Let queued frames reach the engine before flushing it.
	p.bridge.Wait(ctx)
	p.tr.Stop(ctx)
}

func (p *callPipeline) Drain(ctx context.Context) int {
	drainCtx, cancel := context.WithTimeout(ctx, p.drainTimeout)
	defer cancel()
	return p.queue.Drain(drainCtx)
}
