package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/FrLars21/bioacoustics/pkg/artifact"
)

// ServiceName is the service file holding the classifier settings.
const ServiceName = "birdnet"

// Birdnet is the birdnet.yaml service configuration.
//
//	artifacts:
//	  dir: /var/lib/birdnet/v2.4
//	  manifest: manifest.yaml
//	cache:
//	  dir: /var/cache/birdnet
//	  ttl: 24h
//	pipeline:
//	  top_k: 3
//	  max_duration: 10m
//	server:
//	  addr: :8080
//	log:
//	  level: info
//	  format: text
type Birdnet struct {
	Artifacts Artifacts          `json:"artifacts" yaml:"artifacts"`
	Cache     Cache              `json:"cache,omitempty" yaml:"cache,omitempty"`
	Frontend  *artifact.Frontend `json:"frontend,omitempty" yaml:"frontend,omitempty"`
	Pipeline  Pipeline           `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Server    Server             `json:"server,omitempty" yaml:"server,omitempty"`
	Log       Log                `json:"log,omitempty" yaml:"log,omitempty"`
}

// Artifacts locates the classifier release. Exactly one of Dir and S3 is
// set.
type Artifacts struct {
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
	S3       *S3    `json:"s3,omitempty" yaml:"s3,omitempty"`
	Manifest string `json:"manifest,omitempty" yaml:"manifest,omitempty"`
}

// S3 is an S3 or S3 compatible artifact bucket. Empty credentials fall
// back to the AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment.
type S3 struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	PathStyle       bool   `json:"path_style,omitempty" yaml:"path_style,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
}

// Cache configures the fetched-artifact cache. An empty Dir keeps the
// cache in memory.
type Cache struct {
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
	TTL      string `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Pipeline holds prediction options.
type Pipeline struct {
	TopK        int    `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	MaxDuration string `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
	Resample    *bool  `json:"resample,omitempty" yaml:"resample,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// Server configures the WebSocket host.
type Server struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Default returns a configuration reading artifacts from dir.
func Default(dir string) *Birdnet {
	return &Birdnet{
		Artifacts: Artifacts{Dir: dir, Manifest: artifact.DefaultManifest},
		Pipeline:  Pipeline{TopK: 3, MaxDuration: "10m"},
		Server:    Server{Addr: ":8080", Path: "/ws"},
		Log:       Log{Level: "info", Format: "text"},
	}
}

// Validate reports every problem in the configuration.
func (b *Birdnet) Validate() error {
	var result error
	switch {
	case b.Artifacts.Dir == "" && b.Artifacts.S3 == nil:
		result = multierror.Append(result, errors.New("artifacts: dir or s3 is required"))
	case b.Artifacts.Dir != "" && b.Artifacts.S3 != nil:
		result = multierror.Append(result, errors.New("artifacts: dir and s3 are mutually exclusive"))
	case b.Artifacts.S3 != nil && b.Artifacts.S3.Bucket == "":
		result = multierror.Append(result, errors.New("artifacts.s3: bucket is required"))
	}
	if _, err := b.Cache.TTLValue(); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := b.Pipeline.MaxDurationValue(); err != nil {
		result = multierror.Append(result, err)
	}
	if b.Pipeline.TopK < 0 {
		result = multierror.Append(result, fmt.Errorf("pipeline.top_k: must not be negative, got %d", b.Pipeline.TopK))
	}
	if _, err := ParseLevel(b.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	switch strings.ToLower(b.Log.Format) {
	case "", "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("log.format: unknown format %q", b.Log.Format))
	}
	if result != nil {
		return fmt.Errorf("invalid %s config: %w", ServiceName, result)
	}
	return nil
}

// TTLValue parses the cache TTL. Empty means no expiry.
func (c Cache) TTLValue() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("cache.ttl: invalid duration %q", c.TTL)
	}
	return d, nil
}

// MaxDurationValue parses the audio length limit. Empty selects the
// pipeline default, "0" or "off" disables it.
func (p Pipeline) MaxDurationValue() (time.Duration, error) {
	switch p.MaxDuration {
	case "":
		return 0, nil
	case "0", "off", "none":
		return -1, nil
	}
	d, err := time.ParseDuration(p.MaxDuration)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("pipeline.max_duration: invalid duration %q", p.MaxDuration)
	}
	return d, nil
}

// ResampleEnabled reports whether mismatched sample rates are resampled.
func (p Pipeline) ResampleEnabled() bool {
	return p.Resample == nil || *p.Resample
}

// ParseLevel parses debug, info, warn or error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level: unknown level %q", s)
}
