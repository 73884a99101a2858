package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"

	"github.com/FrLars21/bioacoustics/cmd/birdnet/internal/config"
	"github.com/FrLars21/bioacoustics/pkg/artifact"
	"github.com/FrLars21/bioacoustics/pkg/audio/melspec"
	"github.com/FrLars21/bioacoustics/pkg/classifier"
	"github.com/FrLars21/bioacoustics/pkg/kv"
	"github.com/FrLars21/bioacoustics/pkg/pipeline"
	"github.com/FrLars21/bioacoustics/pkg/storage"
)

// loadService reads and validates birdnet.yaml from the selected context
// and installs the configured logger.
func loadService() (*config.Birdnet, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.ResolveContext(contextName)
	if err != nil {
		return nil, err
	}
	svc, err := config.LoadService[config.Birdnet](dir, config.ServiceName)
	if err != nil {
		return nil, err
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	level, _ := config.ParseLevel(svc.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(newLogger(os.Stderr, level, svc.Log.Format))
	return svc, nil
}

// runtime holds the artifact stack built from a service config.
type runtime struct {
	svc    *config.Birdnet
	store  storage.FileStore
	cache  kv.Store
	loader *artifact.Loader
	logger *slog.Logger
}

func openRuntime(svc *config.Birdnet) (*runtime, error) {
	logger := slog.Default()
	store, err := openStore(svc.Artifacts)
	if err != nil {
		return nil, err
	}
	cache, err := openCache(svc.Cache, logger)
	if err != nil {
		return nil, err
	}
	ttl, _ := svc.Cache.TTLValue()
	loader, err := artifact.NewLoader(artifact.Config{
		Store:    store,
		Manifest: svc.Artifacts.Manifest,
		Cache:    cache,
		CacheTTL: ttl,
		Logger:   logger,
	})
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}
	return &runtime{svc: svc, store: store, cache: cache, loader: loader, logger: logger}, nil
}

// newPipeline builds a pipeline whose frontend combines the service and
// manifest overrides, manifest last.
func (r *runtime) newPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	m, err := r.loader.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	base, err := r.svc.Frontend.Apply(melspec.DefaultParams())
	if err != nil {
		return nil, fmt.Errorf("frontend: %w", err)
	}
	params, err := r.loader.Frontend(ctx, m, base)
	if err != nil {
		return nil, err
	}
	maxDuration, _ := r.svc.Pipeline.MaxDurationValue()
	return pipeline.New(pipeline.Config{
		Engine:      classifier.NewEngine(classifier.WithLogger(r.logger)),
		Loader:      r.loader,
		Frontend:    params,
		TopK:        r.svc.Pipeline.TopK,
		MaxDuration: maxDuration,
		NoResample:  !r.svc.Pipeline.ResampleEnabled(),
		QueueSize:   r.svc.Pipeline.QueueSize,
		Logger:      r.logger,
	})
}

func (r *runtime) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func openStore(a config.Artifacts) (storage.FileStore, error) {
	if a.S3 != nil {
		return storage.NewS3(newS3Client(a.S3), a.S3.Bucket, a.S3.Prefix), nil
	}
	return storage.NewLocal(a.Dir)
}

func newS3Client(c *config.S3) *s3.Client {
	key, secret, token := c.AccessKeyID, c.SecretAccessKey, c.SessionToken
	if key == "" {
		key = os.Getenv("AWS_ACCESS_KEY_ID")
		secret = os.Getenv("AWS_SECRET_ACCESS_KEY")
		token = os.Getenv("AWS_SESSION_TOKEN")
	}
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: c.PathStyle,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			if key == "" || secret == "" {
				return aws.Credentials{}, errors.New("s3: no credentials configured")
			}
			return aws.Credentials{
				AccessKeyID:     key,
				SecretAccessKey: secret,
				SessionToken:    token,
				Source:          "birdnet",
			}, nil
		})),
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
	}
	return s3.New(opts)
}

// openCache returns nil when caching is disabled.
func openCache(c config.Cache, logger *slog.Logger) (kv.Store, error) {
	switch {
	case c.Disabled:
		return nil, nil
	case c.Dir == "":
		return kv.NewMemory(nil), nil
	}
	b, err := kv.NewBadger(kv.BadgerOptions{Dir: c.Dir, Logger: logger})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// closeAll closes every closer and joins their errors.
func closeAll(closers ...interface{ Close() error }) error {
	var result error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
