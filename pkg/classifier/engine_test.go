package classifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/FrLars21/bioacoustics/pkg/audio/melspec"
)

type fakeClassifier struct {
	mu     sync.Mutex
	out    []float32
	err    error
	calls  int
	closed bool
	shape  []int
}

func (f *fakeClassifier) Forward(ctx context.Context, in Tensor) (Tensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.shape = append([]int(nil), in.Shape...)
	if f.err != nil {
		return Tensor{}, f.err
	}
	return Tensor{Shape: []int{1, len(f.out)}, Data: append([]float32(nil), f.out...)}, nil
}

func (f *fakeClassifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func staticLoader(c Classifier, labels Vocabulary) Loader {
	return LoaderFunc(func(context.Context) (Classifier, Vocabulary, error) {
		return c, labels, nil
	})
}

func testFeatureMap() *melspec.FeatureMap {
	return &melspec.FeatureMap{Shape: [3]int{2, 3, 1}, Data: make([]float32, 6)}
}

func TestEnginePredictBeforeInit(t *testing.T) {
	e := NewEngine()
	if e.State() != Uninitialized {
		t.Fatalf("state = %v", e.State())
	}
	_, err := e.Predict(context.Background(), testFeatureMap())
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestEngineInitAndPredict(t *testing.T) {
	fc := &fakeClassifier{out: []float32{0.1, 0.8, 0.3}}
	e := NewEngine()
	if err := e.Init(context.Background(), staticLoader(fc, Vocabulary{"a", "b", "c"})); err != nil {
		t.Fatal(err)
	}
	if e.State() != Ready {
		t.Fatalf("state = %v, want ready", e.State())
	}
	if got := e.Labels(); len(got) != 3 {
		t.Fatalf("labels = %v", got)
	}

	probs, err := e.Predict(context.Background(), testFeatureMap())
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != 3 || probs[1] != 0.8 {
		t.Errorf("probs = %v", probs)
	}
	want := []int{1, 2, 3, 1}
	for i := range want {
		if fc.shape[i] != want[i] {
			t.Fatalf("input shape = %v, want %v", fc.shape, want)
		}
	}

	// Init again on a ready engine keeps the loaded model.
	if err := e.Init(context.Background(), staticLoader(&fakeClassifier{}, Vocabulary{"x"})); err != nil {
		t.Fatal(err)
	}
	if e.Labels()[0] != "a" {
		t.Error("re-init replaced vocabulary")
	}
}

func TestEngineInitFailureAllowsRetry(t *testing.T) {
	e := NewEngine()
	boom := errors.New("fetch failed")
	err := e.Init(context.Background(), LoaderFunc(func(context.Context) (Classifier, Vocabulary, error) {
		return nil, nil, boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if e.State() != Uninitialized {
		t.Fatalf("state after failure = %v", e.State())
	}

	fc := &fakeClassifier{out: []float32{1}}
	if err := e.Init(context.Background(), staticLoader(fc, Vocabulary{"a"})); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if e.State() != Ready {
		t.Fatalf("state = %v", e.State())
	}
}

func TestEngineInitRejectsIncompleteArtifacts(t *testing.T) {
	fc := &fakeClassifier{}
	e := NewEngine()
	if err := e.Init(context.Background(), staticLoader(fc, nil)); err == nil {
		t.Fatal("expected error for empty vocabulary")
	}
	if !fc.closed {
		t.Error("classifier not closed after rejected init")
	}
	if err := e.Init(context.Background(), staticLoader(nil, Vocabulary{"a"})); err == nil {
		t.Fatal("expected error for nil classifier")
	}
	if err := e.Init(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil loader")
	}
}

func TestEngineConcurrentInit(t *testing.T) {
	e := NewEngine()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- e.Init(context.Background(), LoaderFunc(func(context.Context) (Classifier, Vocabulary, error) {
			close(started)
			<-release
			return &fakeClassifier{out: []float32{1}}, Vocabulary{"a"}, nil
		}))
	}()
	<-started

	if e.State() != Initializing {
		t.Fatalf("state = %v, want initializing", e.State())
	}
	if err := e.Init(context.Background(), staticLoader(&fakeClassifier{}, Vocabulary{"a"})); !errors.Is(err, ErrInitializing) {
		t.Fatalf("concurrent init err = %v", err)
	}
	if _, err := e.Predict(context.Background(), testFeatureMap()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("predict while initializing err = %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if e.State() != Ready {
		t.Fatalf("state = %v", e.State())
	}
}

func TestEngineOutputMismatch(t *testing.T) {
	fc := &fakeClassifier{out: []float32{0.5, 0.5}}
	e := NewEngine()
	if err := e.Init(context.Background(), staticLoader(fc, Vocabulary{"a", "b", "c"})); err != nil {
		t.Fatal(err)
	}
	_, err := e.Predict(context.Background(), testFeatureMap())
	if !errors.Is(err, ErrOutputMismatch) {
		t.Fatalf("err = %v, want ErrOutputMismatch", err)
	}
}

func TestEngineForwardError(t *testing.T) {
	boom := errors.New("kernel failed")
	e := NewEngine()
	if err := e.Init(context.Background(), staticLoader(&fakeClassifier{err: boom}, Vocabulary{"a"})); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Predict(context.Background(), testFeatureMap()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	// Still usable.
	if e.State() != Ready {
		t.Fatalf("state = %v", e.State())
	}
}

func TestEngineClose(t *testing.T) {
	fc := &fakeClassifier{out: []float32{1}}
	e := NewEngine()
	if err := e.Init(context.Background(), staticLoader(fc, Vocabulary{"a"})); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if !fc.closed {
		t.Error("classifier not closed")
	}
	if err := e.Close(); err != nil {
		t.Fatal("double close:", err)
	}
	if e.State() != Closed {
		t.Errorf("state = %s, want %s", e.State(), Closed)
	}
	if _, err := e.Predict(context.Background(), testFeatureMap()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("predict after close err = %v", err)
	}
	if err := e.Init(context.Background(), staticLoader(fc, Vocabulary{"a"})); !errors.Is(err, ErrClosed) {
		t.Fatalf("init after close err = %v", err)
	}
}
