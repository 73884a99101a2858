package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FrLars21/bioacoustics/pkg/audio/melspec"
)

var (
	// ErrNotInitialized is returned by Predict before Init has completed.
	ErrNotInitialized = errors.New("classifier: not initialized")

	// ErrInitializing is returned by Init while another Init is running.
	ErrInitializing = errors.New("classifier: initialization in progress")

	// ErrOutputMismatch is returned when the classifier output length does
	// not match the vocabulary size.
	ErrOutputMismatch = errors.New("classifier: output does not match vocabulary")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("classifier: engine closed")
)

// State is the engine lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine owns the loaded classifier and vocabulary.
//
// The classifier and vocabulary are written once by Init and read-only
// afterwards. Predict may be called concurrently, although the pipeline
// calls it from a single worker.
type Engine struct {
	logger *slog.Logger

	mu     sync.RWMutex
	state  State
	model  Classifier
	labels Vocabulary
}

// NewEngine creates an uninitialized Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Labels returns the vocabulary, or nil before Ready.
func (e *Engine) Labels() Vocabulary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.labels
}

// Init loads the classifier and vocabulary through loader.
//
// The engine is Initializing while loader runs and becomes Ready only once
// both artifacts are loaded. A failed attempt returns the engine to
// Uninitialized so Init may be retried. Init on a Ready engine is a no-op.
func (e *Engine) Init(ctx context.Context, loader Loader) error {
	e.mu.Lock()
	switch e.state {
	case Ready:
		e.mu.Unlock()
		return nil
	case Initializing:
		e.mu.Unlock()
		return ErrInitializing
	case Closed:
		e.mu.Unlock()
		return ErrClosed
	}
	e.state = Initializing
	e.mu.Unlock()

	start := time.Now()
	e.logger.Info("classifier: loading artifacts")
	model, labels, err := e.load(ctx, loader)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil && e.state != Initializing {
		// Closed while loading.
		model.Close()
		err = ErrClosed
	}
	if err != nil {
		if e.state == Initializing {
			e.state = Uninitialized
		}
		e.logger.Error("classifier: initialization failed", "error", err)
		return err
	}
	e.model = model
	e.labels = labels
	e.state = Ready
	e.logger.Info("classifier: ready", "labels", len(labels), "elapsed", time.Since(start))
	return nil
}

func (e *Engine) load(ctx context.Context, loader Loader) (Classifier, Vocabulary, error) {
	if loader == nil {
		return nil, nil, errors.New("classifier: nil loader")
	}
	model, labels, err := loader.Load(ctx)
	if err != nil {
		if model != nil {
			model.Close()
		}
		return nil, nil, fmt.Errorf("classifier: load: %w", err)
	}
	if model == nil {
		return nil, nil, errors.New("classifier: loader returned no classifier")
	}
	if len(labels) == 0 {
		model.Close()
		return nil, nil, errors.New("classifier: loader returned empty vocabulary")
	}
	return model, labels, nil
}

// Predict runs the classifier on one feature map and returns one
// probability per vocabulary label.
func (e *Engine) Predict(ctx context.Context, fm *melspec.FeatureMap) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != Ready {
		return nil, ErrNotInitialized
	}
	if fm == nil {
		return nil, errors.New("classifier: nil feature map")
	}

	in := Tensor{Shape: fm.Dims(), Data: fm.Data}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	out, err := e.model.Forward(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("classifier: forward: %w", err)
	}
	if len(out.Data) != len(e.labels) {
		return nil, fmt.Errorf("%w: %d outputs for %d labels", ErrOutputMismatch, len(out.Data), len(e.labels))
	}
	return out.Data, nil
}

// Close releases the classifier. The engine cannot be used afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Closed {
		return nil
	}
	e.state = Closed
	var err error
	if e.model != nil {
		err = e.model.Close()
		e.model = nil
	}
	e.labels = nil
	return err
}
