// Package pipeline turns prediction requests into a stream of per-chunk
// species rankings.
//
// A request is processed strictly one chunk at a time: chunk, extract the
// feature map, run the classifier, rank, emit. Only one feature map and one
// probability vector are live at any point, regardless of audio length.
//
// Requests are either handled synchronously with [Pipeline.Handle] or
// queued with [Pipeline.Submit] and consumed by a single worker running
// [Pipeline.Run].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FrLars21/bioacoustics/pkg/audio/chunker"
	"github.com/FrLars21/bioacoustics/pkg/audio/melspec"
	"github.com/FrLars21/bioacoustics/pkg/audio/resampler"
	"github.com/FrLars21/bioacoustics/pkg/classifier"
	"github.com/FrLars21/bioacoustics/pkg/rank"
)

// DefaultMaxDuration bounds the audio accepted by one predict request.
const DefaultMaxDuration = 10 * time.Minute

var (
	// ErrAudioTooLong is reported for audio longer than MaxDuration.
	ErrAudioTooLong = errors.New("pipeline: audio too long")

	// ErrInvalidAudio is reported for malformed audio payloads.
	ErrInvalidAudio = errors.New("pipeline: invalid audio")

	// ErrClosed is returned by Submit once Run has stopped.
	ErrClosed = errors.New("pipeline: closed")
)

// Config configures a Pipeline.
type Config struct {
	// Engine runs the classifier. Required.
	Engine *classifier.Engine

	// Loader is passed to Engine.Init on init messages. Required for init.
	Loader classifier.Loader

	// Frontend is the spectrogram transform. Zero value means
	// melspec.DefaultParams().
	Frontend melspec.Params

	// TopK is the number of predictions per chunk. Default: rank.DefaultK.
	TopK int

	// MaxDuration rejects longer audio. Zero means DefaultMaxDuration,
	// negative disables the limit.
	MaxDuration time.Duration

	// NoResample rejects audio whose sample rate differs from the frontend
	// rate instead of resampling it.
	NoResample bool

	// QueueSize bounds pending Submit calls. Default: 16.
	QueueSize int

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Pipeline sequences chunking, extraction, inference and ranking.
type Pipeline struct {
	engine      *classifier.Engine
	loader      classifier.Loader
	extractor   *melspec.Extractor
	chunkSize   int
	topK        int
	maxDuration time.Duration
	resample    bool
	logger      *slog.Logger

	tasks chan task
	done  chan struct{}
}

type task struct {
	ctx  context.Context
	msg  Message
	sink Sink
	errc chan error
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: engine is required")
	}
	params := cfg.Frontend
	if params.SampleRate == 0 {
		params = melspec.DefaultParams()
	}
	chunkSize := chunker.ChunkSize(params.SampleRate)
	extractor, err := melspec.New(params, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = rank.DefaultK
	}
	maxDuration := cfg.MaxDuration
	if maxDuration == 0 {
		maxDuration = DefaultMaxDuration
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		engine:      cfg.Engine,
		loader:      cfg.Loader,
		extractor:   extractor,
		chunkSize:   chunkSize,
		topK:        topK,
		maxDuration: maxDuration,
		resample:    !cfg.NoResample,
		logger:      logger,
		tasks:       make(chan task, queue),
		done:        make(chan struct{}),
	}, nil
}

// SampleRate returns the rate audio is processed at.
func (p *Pipeline) SampleRate() int {
	return p.extractor.Params().SampleRate
}

// ChunkSize returns the chunk length in samples.
func (p *Pipeline) ChunkSize() int {
	return p.chunkSize
}

// Engine returns the inference engine.
func (p *Pipeline) Engine() *classifier.Engine {
	return p.engine
}

// Handle processes one message synchronously, emitting its events to sink.
//
// Request failures are reported as error events and do not make Handle
// fail; the returned error is non-nil only when sink fails or ctx is done.
func (p *Pipeline) Handle(ctx context.Context, msg Message, sink Sink) error {
	if sink == nil {
		sink = Discard
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	switch msg.Type {
	case TypeInit:
		return p.init(ctx, msg.ID, sink)
	case TypePredict:
		return p.predict(ctx, msg.ID, msg.Audio, sink)
	default:
		return p.fail(sink, msg.ID, CodeBadRequest, fmt.Errorf("pipeline: unknown message type %q", msg.Type))
	}
}

// Submit queues msg for the worker and waits until it has been handled.
// It returns Handle's error, ctx's error, or ErrClosed.
func (p *Pipeline) Submit(ctx context.Context, msg Message, sink Sink) error {
	t := task{ctx: ctx, msg: msg, sink: sink, errc: make(chan error, 1)}
	select {
	case p.tasks <- t:
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.errc:
		return err
	case <-p.done:
		return ErrClosed
	}
}

// Run consumes queued messages one at a time until ctx is done. It may be
// called only once.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)
	p.logger.Info("pipeline: worker started")
	defer p.logger.Info("pipeline: worker stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-p.tasks:
			tctx, cancel := context.WithCancel(t.ctx)
			stop := context.AfterFunc(ctx, cancel)
			err := p.Handle(tctx, t.msg, t.sink)
			stop()
			cancel()
			t.errc <- err
		}
	}
}

func (p *Pipeline) init(ctx context.Context, id string, sink Sink) error {
	if p.loader == nil {
		return p.fail(sink, id, CodeInitFailed, errors.New("pipeline: no artifact loader configured"))
	}
	err := p.engine.Init(ctx, p.loader)
	switch {
	case err == nil:
		return sink(Event{Type: TypeReady, ID: id})
	case errors.Is(err, classifier.ErrInitializing):
		return p.fail(sink, id, CodeInitializing, err)
	default:
		return p.fail(sink, id, CodeInitFailed, err)
	}
}

func (p *Pipeline) predict(ctx context.Context, id string, audio *Audio, sink Sink) error {
	if p.engine.State() != classifier.Ready {
		return p.fail(sink, id, CodeNotInitialized, classifier.ErrNotInitialized)
	}
	samples, err := p.prepare(audio)
	if err != nil {
		code := CodeInvalidAudio
		if errors.Is(err, ErrAudioTooLong) {
			code = CodeAudioTooLong
		}
		return p.fail(sink, id, code, err)
	}
	labels := p.engine.Labels()

	wf := chunker.Waveform{Samples: samples, SampleRate: p.SampleRate()}
	total := chunker.Count(wf.Len(), p.chunkSize)
	start := time.Now()
	if err := sink(Event{Type: TypeStatus, ID: id, Message: StatusStarting, Chunks: total}); err != nil {
		return err
	}

	// One feature-map buffer serves every chunk of the request.
	var fm melspec.FeatureMap
	defer fm.Release()
	for c := range chunker.All(wf, p.chunkSize) {
		if err := ctx.Err(); err != nil {
			p.fail(sink, id, CodeCanceled, err)
			return err
		}
		if err := p.extractor.ExtractInto(&fm, c.Samples); err != nil {
			return p.fail(sink, id, CodeInternal, err)
		}
		probs, err := p.engine.Predict(ctx, &fm)
		if err != nil {
			code := CodeInternal
			if errors.Is(err, classifier.ErrNotInitialized) {
				code = CodeNotInitialized
			}
			return p.fail(sink, id, code, err)
		}
		preds, err := rank.TopK(probs, labels, p.topK)
		if err != nil {
			return p.fail(sink, id, CodeInternal, err)
		}
		index := c.Index
		if err := sink(Event{Type: TypeResult, ID: id, ChunkIndex: &index, Results: preds}); err != nil {
			return err
		}
	}

	p.logger.Info("pipeline: predictions complete",
		"id", id,
		"chunks", total,
		"duration", wf.Duration(),
		"elapsed", time.Since(start),
	)
	return sink(Event{Type: TypeStatus, ID: id, Message: StatusComplete, Chunks: total})
}

// prepare validates audio and returns its samples at the frontend rate.
func (p *Pipeline) prepare(a *Audio) ([]float32, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: missing audioData", ErrInvalidAudio)
	}
	if a.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, a.SampleRate)
	}
	n := a.Length
	if n == 0 {
		n = len(a.ChannelData)
	}
	if n < 0 || n > len(a.ChannelData) {
		return nil, fmt.Errorf("%w: length %d with %d samples", ErrInvalidAudio, a.Length, len(a.ChannelData))
	}
	if p.maxDuration > 0 {
		d := time.Duration(int64(n) * int64(time.Second) / int64(a.SampleRate))
		if d > p.maxDuration {
			return nil, fmt.Errorf("%w: %s exceeds %s", ErrAudioTooLong, d, p.maxDuration)
		}
	}
	samples := a.ChannelData[:n]
	rate := p.SampleRate()
	if a.SampleRate == rate {
		return samples, nil
	}
	if !p.resample {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrInvalidAudio, a.SampleRate, rate)
	}
	out, err := resampler.Resample(samples, a.SampleRate, rate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	p.logger.Debug("pipeline: resampled", "from", a.SampleRate, "to", rate, "samples", len(out))
	return out, nil
}

// fail emits one error event and returns the sink's error.
func (p *Pipeline) fail(sink Sink, id string, code ErrorCode, err error) error {
	p.logger.Warn("pipeline: request failed", "id", id, "code", code, "error", err)
	return sink(Event{Type: TypeError, ID: id, Code: code, Message: err.Error()})
}
