package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FrLars21/bioacoustics/pkg/audio/melspec"
	"github.com/FrLars21/bioacoustics/pkg/classifier"
)

// testParams is a small frontend: 1 kHz audio gives 3000-sample chunks.
func testParams() melspec.Params {
	return melspec.Params{
		SampleRate:       1000,
		FrameLength:      256,
		FrameStep:        128,
		FMin:             0,
		FMax:             500,
		MelBins:          8,
		CompressionScale: 1.23,
	}
}

var testLabels = classifier.Vocabulary{"Turdus merula", "Erithacus rubecula", "Corvus corax", "Pica pica"}

type fakeModel struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (f *fakeModel) Forward(_ context.Context, in classifier.Tensor) (classifier.Tensor, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return classifier.Tensor{Shape: []int{1, 4}, Data: []float32{0.1, 0.9, 0.4, 0.9}}, nil
}

func (f *fakeModel) Close() error { return nil }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestPipeline(t *testing.T, model *fakeModel, mutate func(*Config)) *Pipeline {
	t.Helper()
	cfg := Config{
		Engine:   classifier.NewEngine(),
		Frontend: testParams(),
		Loader: classifier.LoaderFunc(func(context.Context) (classifier.Classifier, classifier.Vocabulary, error) {
			return model, testLabels, nil
		}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func initPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	var r recorder
	if err := p.Handle(context.Background(), Message{Type: TypeInit}, r.sink); err != nil {
		t.Fatal(err)
	}
	if len(r.events) != 1 || r.events[0].Type != TypeReady {
		t.Fatalf("init events = %+v", r.events)
	}
}

func audio(rate, n int) *Audio {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i%50) / 50
	}
	return &Audio{SampleRate: rate, Length: n, ChannelData: data}
}

func TestPredictBeforeInit(t *testing.T) {
	model := &fakeModel{}
	p := newTestPipeline(t, model, nil)
	var r recorder
	if err := p.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(1000, 9000)}, r.sink); err != nil {
		t.Fatal(err)
	}
	if len(r.events) != 1 {
		t.Fatalf("events = %+v, want exactly one", r.events)
	}
	if e := r.events[0]; e.Type != TypeError || e.Code != CodeNotInitialized {
		t.Fatalf("event = %+v", e)
	}
	if model.calls.Load() != 0 {
		t.Error("classifier called before init")
	}

	// The pipeline stays usable.
	initPipeline(t, p)
	r = recorder{}
	if err := p.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(1000, 3000)}, r.sink); err != nil {
		t.Fatal(err)
	}
	if r.count(TypeResult) != 1 {
		t.Fatalf("events after init = %+v", r.events)
	}
}

func TestPredictExactChunks(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, nil)
	initPipeline(t, p)

	var r recorder
	msg := Message{Type: TypePredict, ID: "req-1", Audio: audio(1000, 9000)}
	if err := p.Handle(context.Background(), msg, r.sink); err != nil {
		t.Fatal(err)
	}
	if len(r.events) != 5 {
		t.Fatalf("events = %+v", r.events)
	}
	first, last := r.events[0], r.events[4]
	if first.Type != TypeStatus || first.Message != StatusStarting || first.Chunks != 3 {
		t.Errorf("first = %+v", first)
	}
	if last.Type != TypeStatus || last.Message != StatusComplete {
		t.Errorf("last = %+v", last)
	}
	for i, e := range r.events[1:4] {
		if e.Type != TypeResult || e.ChunkIndex == nil || *e.ChunkIndex != i {
			t.Fatalf("result %d = %+v", i, e)
		}
		if e.ID != "req-1" {
			t.Errorf("id = %q", e.ID)
		}
		// 0.9 ties keep vocabulary order.
		if len(e.Results) != 3 ||
			e.Results[0].Species != "Erithacus rubecula" ||
			e.Results[1].Species != "Pica pica" ||
			e.Results[2].Species != "Corvus corax" {
			t.Errorf("results = %+v", e.Results)
		}
	}
}

func TestPredictPadsLastChunk(t *testing.T) {
	model := &fakeModel{}
	p := newTestPipeline(t, model, nil)
	initPipeline(t, p)
	var r recorder
	if err := p.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(1000, 5000)}, r.sink); err != nil {
		t.Fatal(err)
	}
	if r.count(TypeResult) != 2 || model.calls.Load() != 2 {
		t.Fatalf("results = %d, calls = %d", r.count(TypeResult), model.calls.Load())
	}
}

func TestPredictTopK(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, func(c *Config) { c.TopK = 10 })
	initPipeline(t, p)
	var r recorder
	p.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(1000, 100)}, r.sink)
	for _, e := range r.events {
		if e.Type == TypeResult && len(e.Results) != len(testLabels) {
			t.Fatalf("results = %d, want %d", len(e.Results), len(testLabels))
		}
	}
}

func TestPredictInvalidAudio(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, nil)
	initPipeline(t, p)
	cases := map[string]*Audio{
		"missing":    nil,
		"zero rate":  {SampleRate: 0, Length: 1, ChannelData: []float32{1}},
		"long":       {SampleRate: 1000, Length: 5, ChannelData: []float32{1}},
		"neg length": {SampleRate: 1000, Length: -1, ChannelData: []float32{1}},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			var r recorder
			if err := p.Handle(context.Background(), Message{Type: TypePredict, Audio: a}, r.sink); err != nil {
				t.Fatal(err)
			}
			if len(r.events) != 1 || r.events[0].Code != CodeInvalidAudio {
				t.Fatalf("events = %+v", r.events)
			}
		})
	}
}

func TestPredictLengthDefaultsToData(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, nil)
	initPipeline(t, p)
	var r recorder
	a := audio(1000, 6000)
	a.Length = 0
	p.Handle(context.Background(), Message{Type: TypePredict, Audio: a}, r.sink)
	if r.count(TypeResult) != 2 {
		t.Fatalf("events = %+v", r.events)
	}

	// No samples means no chunks, only the two status events.
	var empty recorder
	p.Handle(context.Background(), Message{Type: TypePredict, Audio: &Audio{SampleRate: 1000}}, empty.sink)
	if empty.count(TypeResult) != 0 || empty.count(TypeStatus) != 2 || empty.count(TypeError) != 0 {
		t.Fatalf("empty events = %+v", empty.events)
	}
}

func TestPredictMaxDuration(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, func(c *Config) { c.MaxDuration = 5 * time.Second })
	initPipeline(t, p)
	var r recorder
	p.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(1000, 6000)}, r.sink)
	if len(r.events) != 1 || r.events[0].Code != CodeAudioTooLong {
		t.Fatalf("events = %+v", r.events)
	}
	if p.maxDuration != 5*time.Second {
		t.Fatal("max duration not applied")
	}
	if q := newTestPipeline(t, &fakeModel{}, nil); q.maxDuration != DefaultMaxDuration {
		t.Errorf("default max duration = %s", q.maxDuration)
	}
}

func TestPredictResamples(t *testing.T) {
	model := &fakeModel{}
	p := newTestPipeline(t, model, nil)
	initPipeline(t, p)
	var r recorder
	// 3000 samples at 500 Hz become 6000 samples at 1 kHz: two chunks.
	p.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(500, 3000)}, r.sink)
	if r.count(TypeResult) != 2 {
		t.Fatalf("events = %+v", r.events)
	}

	q := newTestPipeline(t, model, func(c *Config) { c.NoResample = true })
	initPipeline(t, q)
	r = recorder{}
	q.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(500, 3000)}, r.sink)
	if len(r.events) != 1 || r.events[0].Code != CodeInvalidAudio {
		t.Fatalf("events = %+v", r.events)
	}
}

func TestInitFailureThenRetry(t *testing.T) {
	model := &fakeModel{}
	attempts := 0
	p := newTestPipeline(t, model, func(c *Config) {
		c.Loader = classifier.LoaderFunc(func(context.Context) (classifier.Classifier, classifier.Vocabulary, error) {
			attempts++
			if attempts == 1 {
				return nil, nil, errors.New("labels unreachable")
			}
			return model, testLabels, nil
		})
	})

	var r recorder
	p.Handle(context.Background(), Message{Type: TypeInit}, r.sink)
	if len(r.events) != 1 || r.events[0].Code != CodeInitFailed || !strings.Contains(r.events[0].Message, "labels unreachable") {
		t.Fatalf("events = %+v", r.events)
	}
	if p.Engine().State() != classifier.Uninitialized {
		t.Fatalf("state = %v", p.Engine().State())
	}
	initPipeline(t, p)
}

func TestInitWithoutLoader(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, func(c *Config) { c.Loader = nil })
	var r recorder
	p.Handle(context.Background(), Message{Type: TypeInit}, r.sink)
	if len(r.events) != 1 || r.events[0].Code != CodeInitFailed {
		t.Fatalf("events = %+v", r.events)
	}
}

func TestSinkErrorAborts(t *testing.T) {
	model := &fakeModel{}
	p := newTestPipeline(t, model, nil)
	initPipeline(t, p)
	boom := errors.New("client gone")
	sink := func(e Event) error {
		if e.Type == TypeResult {
			return boom
		}
		return nil
	}
	err := p.Handle(context.Background(), Message{Type: TypePredict, Audio: audio(1000, 9000)}, sink)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if n := model.calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestCancelBetweenChunks(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, nil)
	initPipeline(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var r recorder
	sink := func(e Event) error {
		r.sink(e)
		if e.Type == TypeResult {
			cancel()
		}
		return nil
	}
	err := p.Handle(ctx, Message{Type: TypePredict, Audio: audio(1000, 9000)}, sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if r.count(TypeResult) != 1 || r.count(TypeError) != 1 {
		t.Fatalf("events = %+v", r.events)
	}
	if last := r.events[len(r.events)-1]; last.Code != CodeCanceled {
		t.Errorf("last = %+v", last)
	}
}

func TestUnknownMessage(t *testing.T) {
	p := newTestPipeline(t, &fakeModel{}, nil)
	var r recorder
	p.Handle(context.Background(), Message{Type: "train"}, r.sink)
	if len(r.events) != 1 || r.events[0].Code != CodeBadRequest {
		t.Fatalf("events = %+v", r.events)
	}
	if r.events[0].ID == "" {
		t.Error("no id assigned")
	}
}

func TestRunSequential(t *testing.T) {
	model := &fakeModel{delay: time.Millisecond}
	p := newTestPipeline(t, model, nil)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	if err := p.Submit(ctx, Message{Type: TypeInit}, nil); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var results atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Submit(ctx, Message{Type: TypePredict, Audio: audio(1000, 6000)}, func(e Event) error {
				if e.Type == TypeResult {
					results.Add(1)
				}
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if results.Load() != 8 {
		t.Errorf("results = %d, want 8", results.Load())
	}
	if model.overlap.Load() {
		t.Error("forward passes overlapped")
	}

	cancel()
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v", err)
	}
	if err := p.Submit(context.Background(), Message{Type: TypeInit}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after stop = %v", err)
	}
}

func TestEventJSON(t *testing.T) {
	zero := 0
	data, err := json.Marshal(Event{Type: TypeResult, ChunkIndex: &zero})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"chunkIndex":0`) {
		t.Errorf("result json = %s", data)
	}
	data, _ = json.Marshal(Event{Type: TypeStatus, Message: StatusComplete})
	if strings.Contains(string(data), "chunkIndex") {
		t.Errorf("status json = %s", data)
	}

	var msg Message
	in := `{"type":"predict","audioData":{"sampleRate":48000,"length":2,"channelData":[0.5,-0.5]}}`
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Audio == nil || msg.Audio.SampleRate != 48000 || len(msg.Audio.ChannelData) != 2 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without engine")
	}
	bad := testParams()
	bad.FrameStep = 0
	if _, err := New(Config{Engine: classifier.NewEngine(), Frontend: bad}); err == nil {
		t.Error("expected frontend validation error")
	}
	p, err := New(Config{Engine: classifier.NewEngine()})
	if err != nil {
		t.Fatal(err)
	}
	if p.SampleRate() != 48000 || p.ChunkSize() != 144000 {
		t.Errorf("defaults: rate %d chunk %d", p.SampleRate(), p.ChunkSize())
	}
}
