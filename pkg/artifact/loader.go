package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/FrLars21/bioacoustics/pkg/audio/melspec"
	"github.com/FrLars21/bioacoustics/pkg/classifier"
	"github.com/FrLars21/bioacoustics/pkg/kv"
	"github.com/FrLars21/bioacoustics/pkg/storage"
)

// DefaultManifest is the manifest path used when Config.Manifest is empty.
const DefaultManifest = "manifest.yaml"

// CacheNamespace is the first key segment of cached blobs:
// {CacheNamespace, path, version}.
const CacheNamespace = "blob"

// Config configures a Loader.
type Config struct {
	// Store holds the manifest and the files it references. Required.
	Store storage.FileStore

	// Manifest is the manifest path in Store. Default: DefaultManifest.
	Manifest string

	// Cache stores fetched blobs. Nil disables caching.
	Cache kv.Store

	// CacheTTL expires cached blobs. Zero keeps them until replaced.
	CacheTTL time.Duration

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Loader implements [classifier.Loader] for manifest-described artifacts.
type Loader struct {
	store    storage.FileStore
	manifest string
	cache    kv.Store
	ttl      time.Duration
	logger   *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(cfg Config) (*Loader, error) {
	if cfg.Store == nil {
		return nil, errors.New("artifact: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	manifest := cfg.Manifest
	if manifest == "" {
		manifest = DefaultManifest
	}
	return &Loader{
		store:    cfg.Store,
		manifest: manifest,
		cache:    cfg.Cache,
		ttl:      cfg.CacheTTL,
		logger:   logger,
	}, nil
}

// Manifest fetches and validates the manifest. It is never cached.
func (l *Loader) Manifest(ctx context.Context) (*Manifest, error) {
	data, err := storage.ReadFile(ctx, l.store, l.manifest)
	if err != nil {
		return nil, fmt.Errorf("artifact: read manifest %s: %w", l.manifest, err)
	}
	return ParseManifest(data)
}

// Load implements [classifier.Loader].
func (l *Loader) Load(ctx context.Context) (classifier.Classifier, classifier.Vocabulary, error) {
	m, err := l.Manifest(ctx)
	if err != nil {
		return nil, nil, err
	}
	return l.LoadManifest(ctx, m)
}

// LoadManifest loads the classifier and vocabulary m describes.
func (l *Loader) LoadManifest(ctx context.Context, m *Manifest) (classifier.Classifier, classifier.Vocabulary, error) {
	backend, ok := lookupBackend(m.Model.Backend)
	if !ok {
		return nil, nil, fmt.Errorf("artifact: backend %q is not registered", m.Model.Backend)
	}

	labelData, err := l.Fetch(ctx, m.Labels)
	if err != nil {
		return nil, nil, err
	}
	labels, err := classifier.ParseLabels(labelData, m.Labels)
	if err != nil {
		return nil, nil, err
	}

	modelData, err := l.Fetch(ctx, m.Model.Path)
	if err != nil {
		return nil, nil, err
	}
	model, err := backend(ctx, m.Model, modelData)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: build %s classifier: %w", m.Model.Backend, err)
	}

	l.logger.Info("artifact: loaded",
		"name", m.Name,
		"backend", m.Model.Backend,
		"model", m.Model.Path,
		"model_bytes", len(modelData),
		"labels", len(labels),
	)
	return model, labels, nil
}

// Frontend returns base with the manifest's frontend overrides applied,
// including a stored filterbank matrix.
func (l *Loader) Frontend(ctx context.Context, m *Manifest, base melspec.Params) (melspec.Params, error) {
	p, err := m.Frontend.Apply(base)
	if err != nil {
		return base, fmt.Errorf("artifact: frontend: %w", err)
	}
	if m.Frontend == nil || m.Frontend.Filterbank == "" {
		return p, nil
	}
	data, err := l.Fetch(ctx, m.Frontend.Filterbank)
	if err != nil {
		return base, err
	}
	var fb [][]float32
	if err := msgpack.Unmarshal(data, &fb); err != nil {
		return base, fmt.Errorf("artifact: decode filterbank %s: %w", m.Frontend.Filterbank, err)
	}
	p.Filterbank = fb
	return p, nil
}

// Fetch reads a file from the store, going through the cache when one is
// configured. Cache entries are keyed by the file's version, so a changed
// file is fetched again.
func (l *Loader) Fetch(ctx context.Context, p string) ([]byte, error) {
	if l.cache == nil {
		return l.read(ctx, p)
	}
	info, err := l.store.Stat(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("artifact: stat %s: %w", p, err)
	}
	key := kv.Key{CacheNamespace, path.Clean(p), info.Version}
	if data, err := l.cache.Get(ctx, key); err == nil {
		l.logger.Debug("artifact: cache hit", "path", p, "version", info.Version)
		return data, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		l.logger.Warn("artifact: cache read failed", "path", p, "error", err)
	}

	data, err := l.read(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(ctx, key, data, l.ttl); err != nil {
		l.logger.Warn("artifact: cache write failed", "path", p, "error", err)
	}
	return data, nil
}

func (l *Loader) read(ctx context.Context, p string) ([]byte, error) {
	data, err := storage.ReadFile(ctx, l.store, p)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", p, err)
	}
	return data, nil
}

// Push copies every file under prefix from src to dst and returns the
// copied paths.
func Push(ctx context.Context, dst, src storage.FileStore, prefix string) ([]string, error) {
	files, err := src.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("artifact: list source: %w", err)
	}
	var pushed []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return pushed, err
		}
		data, err := storage.ReadFile(ctx, src, f.Path)
		if err != nil {
			return pushed, fmt.Errorf("artifact: read %s: %w", f.Path, err)
		}
		if err := storage.WriteFile(ctx, dst, f.Path, data); err != nil {
			return pushed, fmt.Errorf("artifact: write %s: %w", f.Path, err)
		}
		pushed = append(pushed, f.Path)
	}
	return pushed, nil
}

var _ classifier.Loader = (*Loader)(nil)
