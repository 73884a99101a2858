package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/FrLars21/bioacoustics/pkg/audio/chunker"
	"github.com/FrLars21/bioacoustics/pkg/audio/pcm"
	"github.com/FrLars21/bioacoustics/pkg/cli"
	"github.com/FrLars21/bioacoustics/pkg/pipeline"
	"github.com/FrLars21/bioacoustics/pkg/rank"
)

// predictRequest is the -f request file.
//
//	input: dawn.f32
//	sample_rate: 48000
//	encoding: f32le
//	channels: 1
type predictRequest struct {
	Input      string `json:"input" yaml:"input"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
	Encoding   string `json:"encoding" yaml:"encoding"`
	Channels   int    `json:"channels" yaml:"channels"`
}

var (
	predictFile     string
	predictRate     int
	predictEncoding string
	predictChannels int
	predictTopK     int
)

type chunkPrediction struct {
	Chunk       int               `json:"chunk" yaml:"chunk"`
	Start       float64           `json:"start" yaml:"start"`
	End         float64           `json:"end" yaml:"end"`
	Predictions []rank.Prediction `json:"predictions" yaml:"predictions"`
}

type predictionReport []chunkPrediction

func (r predictionReport) Header() []string {
	return []string{"CHUNK", "START", "END", "SPECIES", "CONFIDENCE"}
}

func (r predictionReport) Rows() [][]string {
	var rows [][]string
	for _, c := range r {
		for _, p := range c.Predictions {
			rows = append(rows, []string{
				strconv.Itoa(c.Chunk),
				strconv.FormatFloat(c.Start, 'f', 1, 64),
				strconv.FormatFloat(c.End, 'f', 1, 64),
				p.Species,
				strconv.FormatFloat(float64(p.Confidence), 'f', 4, 32),
			})
		}
	}
	return rows
}

var predictCmd = &cobra.Command{
	Use:   "predict [file]",
	Short: "Classify a raw PCM recording chunk by chunk",
	Long: `Classify a headerless PCM recording. The recording is split into 3 s
chunks and the top species of every chunk are reported.

Use "-" to read samples from stdin. Multi-channel input is downmixed to
mono; a sample rate different from the classifier's is resampled.

Examples:
  birdnet predict dawn.f32 --rate 48000
  birdnet predict dusk.s16 --rate 44100 --encoding s16le --channels 2 -o table
  birdnet predict -f request.yaml --jq '.[].predictions[0]'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPredict,
}

func runPredict(cmd *cobra.Command, args []string) error {
	req := predictRequest{SampleRate: 48000, Channels: 1}
	if predictFile != "" {
		if err := cli.LoadRequest(predictFile, &req); err != nil {
			return err
		}
	}
	if len(args) == 1 {
		req.Input = args[0]
	}
	flags := cmd.Flags()
	if flags.Changed("rate") {
		req.SampleRate = predictRate
	}
	if flags.Changed("encoding") {
		req.Encoding = predictEncoding
	}
	if flags.Changed("channels") {
		req.Channels = predictChannels
	}
	if req.Input == "" {
		return errors.New("no input file; pass a path or set input in the request file")
	}

	enc, err := pcm.ParseEncoding(req.Encoding)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, req.Input)
	if err != nil {
		return err
	}
	samples, err := pcm.Decode(data, enc, req.Channels)
	if err != nil {
		return err
	}

	svc, err := loadService()
	if err != nil {
		return err
	}
	if flags.Changed("top-k") {
		svc.Pipeline.TopK = predictTopK
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt, err := openRuntime(svc)
	if err != nil {
		return err
	}
	p, err := rt.newPipeline(ctx)
	if err != nil {
		rt.Close()
		return err
	}
	defer closeAll(p.Engine(), rt)

	duration := float64(len(samples)) / float64(req.SampleRate)
	var report predictionReport
	var failure error
	sink := func(ev pipeline.Event) error {
		switch ev.Type {
		case pipeline.TypeError:
			failure = fmt.Errorf("%s: %s", ev.Code, ev.Message)
		case pipeline.TypeStatus:
			slog.Debug("predict: "+ev.Message, "chunks", ev.Chunks)
		case pipeline.TypeResult:
			start := float64(*ev.ChunkIndex) * chunker.ChunkDuration.Seconds()
			report = append(report, chunkPrediction{
				Chunk:       *ev.ChunkIndex,
				Start:       start,
				End:         min(start+chunker.ChunkDuration.Seconds(), duration),
				Predictions: ev.Results,
			})
		}
		return nil
	}

	if err := p.Handle(ctx, pipeline.Message{Type: pipeline.TypeInit}, sink); err != nil {
		return err
	}
	if failure != nil {
		return failure
	}
	msg := pipeline.Message{
		Type: pipeline.TypePredict,
		Audio: &pipeline.Audio{
			SampleRate:  req.SampleRate,
			Length:      len(samples),
			ChannelData: samples,
		},
	}
	if err := p.Handle(ctx, msg, sink); err != nil {
		return err
	}
	if failure != nil {
		return failure
	}
	return output(cmd, report)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func init() {
	predictCmd.Flags().StringVarP(&predictFile, "file", "f", "", "request file (YAML or JSON)")
	predictCmd.Flags().IntVar(&predictRate, "rate", 48000, "sample rate of the input in Hz")
	predictCmd.Flags().StringVar(&predictEncoding, "encoding", "f32le", "sample encoding: f32le or s16le")
	predictCmd.Flags().IntVar(&predictChannels, "channels", 1, "interleaved channels in the input")
	predictCmd.Flags().IntVar(&predictTopK, "top-k", 3, "predictions per chunk")

	rootCmd.AddCommand(predictCmd)
}
