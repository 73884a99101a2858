// Package artifact loads a classifier and its label vocabulary from a
// [storage.FileStore], as described by a YAML manifest.
//
// A manifest looks like:
//
//	name: birdnet-v2.4
//	model:
//	  backend: onnx            # or "dense"
//	  path: models/birdnet_v2.4.onnx
//	  input: INPUT              # optional, discovered when empty
//	  output: MODEL_OUTPUT
//	labels: labels/en_us.txt
//	frontend:                   # optional, overrides the configured defaults
//	  fmax: 3000
//	  mel_bins: 96
//	  compression_scale: 1.23
//
// Fetched blobs are cached in a [kv.Store] keyed by path and content
// version, so a restart against S3 reads unchanged artifacts from disk.
package artifact

import (
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"

	"github.com/FrLars21/bioacoustics/pkg/audio/melspec"
	"github.com/FrLars21/bioacoustics/pkg/storage"
)

// Manifest describes one classifier release.
type Manifest struct {
	Name     string    `yaml:"name" json:"name"`
	Model    ModelSpec `yaml:"model" json:"model"`
	Labels   string    `yaml:"labels" json:"labels"`
	Frontend *Frontend `yaml:"frontend,omitempty" json:"frontend,omitempty"`
}

// ModelSpec locates the classifier weights and selects the backend that
// decodes them.
type ModelSpec struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
	Input   string `yaml:"input,omitempty" json:"input,omitempty"`
	Output  string `yaml:"output,omitempty" json:"output,omitempty"`
	Threads int    `yaml:"threads,omitempty" json:"threads,omitempty"`
}

// Frontend overrides spectrogram parameters. Nil fields keep the base
// value.
type Frontend struct {
	SampleRate       *int     `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	FrameLength      *int     `yaml:"frame_length,omitempty" json:"frame_length,omitempty"`
	FrameStep        *int     `yaml:"frame_step,omitempty" json:"frame_step,omitempty"`
	FMin             *float64 `yaml:"fmin,omitempty" json:"fmin,omitempty"`
	FMax             *float64 `yaml:"fmax,omitempty" json:"fmax,omitempty"`
	MelBins          *int     `yaml:"mel_bins,omitempty" json:"mel_bins,omitempty"`
	CompressionScale *float64 `yaml:"compression_scale,omitempty" json:"compression_scale,omitempty"`
	Spectrum         string   `yaml:"spectrum,omitempty" json:"spectrum,omitempty"`

	// Filterbank is the store path of a msgpack [bins][mels]float32
	// matrix. Empty generates the standard mel weights.
	Filterbank string `yaml:"filterbank,omitempty" json:"filterbank,omitempty"`
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("artifact: parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Validate reports every problem in the manifest at once.
func (m *Manifest) Validate() error {
	var result *multierror.Error
	if m.Model.Backend == "" {
		result = multierror.Append(result, errors.New("model.backend is required"))
	} else if _, ok := lookupBackend(m.Model.Backend); !ok {
		result = multierror.Append(result, fmt.Errorf("model.backend %q is not registered", m.Model.Backend))
	}
	if _, err := storage.Clean(m.Model.Path); err != nil {
		result = multierror.Append(result, fmt.Errorf("model.path: %w", err))
	}
	if _, err := storage.Clean(m.Labels); err != nil {
		result = multierror.Append(result, fmt.Errorf("labels: %w", err))
	}
	if m.Model.Threads < 0 {
		result = multierror.Append(result, fmt.Errorf("model.threads must not be negative"))
	}
	if f := m.Frontend; f != nil {
		if _, err := melspec.ParseSpectrumMode(f.Spectrum); err != nil {
			result = multierror.Append(result, fmt.Errorf("frontend.spectrum: %w", err))
		}
		if f.CompressionScale != nil && (math.IsNaN(*f.CompressionScale) || math.IsInf(*f.CompressionScale, 0)) {
			result = multierror.Append(result, errors.New("frontend.compression_scale must be finite"))
		}
		if f.Filterbank != "" {
			if _, err := storage.Clean(f.Filterbank); err != nil {
				result = multierror.Append(result, fmt.Errorf("frontend.filterbank: %w", err))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("artifact: invalid manifest: %w", err)
	}
	return nil
}

// Apply returns base with the manifest overrides applied. The filterbank
// path is resolved by [Loader.Frontend].
func (f *Frontend) Apply(base melspec.Params) (melspec.Params, error) {
	if f == nil {
		return base, nil
	}
	p := base
	if f.SampleRate != nil {
		p.SampleRate = *f.SampleRate
	}
	if f.FrameLength != nil {
		p.FrameLength = *f.FrameLength
	}
	if f.FrameStep != nil {
		p.FrameStep = *f.FrameStep
	}
	if f.FMin != nil {
		p.FMin = *f.FMin
	}
	if f.FMax != nil {
		p.FMax = *f.FMax
	}
	if f.MelBins != nil {
		p.MelBins = *f.MelBins
	}
	if f.CompressionScale != nil {
		p.CompressionScale = *f.CompressionScale
	}
	if f.Spectrum != "" {
		mode, err := melspec.ParseSpectrumMode(f.Spectrum)
		if err != nil {
			return base, err
		}
		p.Spectrum = mode
	}
	return p, nil
}
