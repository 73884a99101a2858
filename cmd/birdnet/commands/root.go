package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FrLars21/bioacoustics/cmd/birdnet/internal/config"
	"github.com/FrLars21/bioacoustics/pkg/cli"
)

var (
	// Global flags
	verbose      bool
	contextName  string
	outputFormat string
	jqQuery      string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "birdnet",
	Short: "Bird species classification from audio",
	Long: `birdnet - Classify bird vocalizations in 3 second chunks of audio.

A recording is split into 3 s windows, each window is turned into a mel
spectrogram and ranked against the classifier's species vocabulary.

Configuration is stored in the OS config directory:
  macOS:   ~/Library/Application Support/birdnet/
  Linux:   ~/.config/birdnet/
  Windows: %AppData%/birdnet/

Use 'birdnet config' to manage contexts and the birdnet.yaml service file.

Examples:
  # Create a context pointing at a local artifact directory
  birdnet config add-context field --artifacts /data/birdnet/v2.4
  birdnet config use-context field

  # Classify a raw 48 kHz float32 recording
  birdnet predict dawn.f32 --rate 48000

  # Serve the message contract over WebSocket
  birdnet serve --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(newLogger(os.Stderr, level, "text"))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context to use (default: current context)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml, json, table, raw")
	rootCmd.PersistentFlags().StringVar(&jqQuery, "jq", "", "jq expression applied to the output")
}

// configLoadErr stores the error from config.Load() for deferred reporting.
var configLoadErr error

func initConfig() {
	cfg, err := config.Load()
	if err != nil {
		// Commands that need config report this through GetConfig.
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration.
// Returns an error if the config could not be loaded (e.g., HOME not set).
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// output writes result in the selected format to the command's stdout.
func output(cmd *cobra.Command, result any) error {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		Writer: cmd.OutOrStdout(),
		Query:  jqQuery,
	})
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
