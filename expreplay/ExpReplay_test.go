package expreplay

import (
	"math"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gocuriosity/timestep"
)

// newLabelled returns a transition whose reward and observations carry
// the given label, so that tests can identify which slots survive
// eviction
func newLabelled(label float64) timestep.Transition {
	return timestep.New(
		mat.NewVecDense(2, []float64{label, -label}),
		mat.NewVecDense(1, []float64{0}),
		label,
		mat.NewVecDense(2, []float64{label + 1, -label - 1}),
		false,
	)
}

func newTestMemory(t *testing.T, capacity int,
	transforms ...Transform) *ExperienceMemory {
	t.Helper()

	memory, err := New(Config{
		Capacity:  capacity,
		ObsDim:    2,
		ActionDim: 1,
		Seed:      14,
	}, transforms...)
	if err != nil {
		t.Fatalf("could not create memory: %v", err)
	}
	return memory
}

func TestConfigValidate(t *testing.T) {
	configs := []Config{
		{Capacity: 0, ObsDim: 2, ActionDim: 1},
		{Capacity: 5, ObsDim: 0, ActionDim: 1},
		{Capacity: 5, ObsDim: 2, ActionDim: 0},
	}
	for i, cfg := range configs {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %v: expected validation error, got nil", i)
		}
	}
}

// Once the memory is full, appends must overwrite slots in insertion
// order, oldest first, and the size must stay pinned at capacity.
func TestAppendFIFOEviction(t *testing.T) {
	memory := newTestMemory(t, 5)

	for label := 0; label < 7; label++ {
		if err := memory.Append(newLabelled(float64(label))); err != nil {
			t.Fatalf("could not append transition %v: %v", label, err)
		}
	}

	if size := memory.Size(); size != 5 {
		t.Errorf("size \n\twant(%v)\n\thave(%v)", 5, size)
	}
	if cursor := memory.Cursor(); cursor != 2 {
		t.Errorf("cursor \n\twant(%v)\n\thave(%v)", 2, cursor)
	}

	// Labels 0 and 1 were evicted by 5 and 6
	batch, err := memory.batchAt([]int{0, 1, 2, 3, 4})
	if err != nil {
		t.Fatalf("could not read slots: %v", err)
	}
	want := []float64{5, 6, 2, 3, 4}
	for i, r := range batch.Rewards() {
		if r != want[i] {
			t.Errorf("slot %v label \n\twant(%v)\n\thave(%v)", i, want[i],
				r)
		}
	}
}

func TestAppendShapeMismatch(t *testing.T) {
	memory := newTestMemory(t, 5)

	badObs := timestep.New(
		mat.NewVecDense(3, []float64{0, 0, 0}),
		mat.NewVecDense(1, []float64{0}),
		0,
		mat.NewVecDense(3, []float64{0, 0, 0}),
		false,
	)
	if err := memory.Append(badObs); !IsShapeMismatch(err) {
		t.Errorf("expected shape mismatch error, got %v", err)
	}

	badAction := timestep.New(
		mat.NewVecDense(2, []float64{0, 0}),
		mat.NewVecDense(2, []float64{0, 0}),
		0,
		mat.NewVecDense(2, []float64{0, 0}),
		false,
	)
	if err := memory.Append(badAction); !IsShapeMismatch(err) {
		t.Errorf("expected shape mismatch error, got %v", err)
	}

	if size := memory.Size(); size != 0 {
		t.Errorf("rejected appends changed the size to %v", size)
	}
}

func TestSampleEmptyMemory(t *testing.T) {
	memory := newTestMemory(t, 5)

	if _, _, err := memory.Sample(1); !IsInsufficientData(err) {
		t.Errorf("expected insufficient data error, got %v", err)
	}
	errFn := func(b *timestep.Batch) []float64 {
		return make([]float64, b.Len())
	}
	if _, _, err := memory.SampleByPriority(1, errFn); !IsInsufficientData(err) {
		t.Errorf("expected insufficient data error, got %v", err)
	}
}

func TestSampleUniform(t *testing.T) {
	memory := newTestMemory(t, 5)
	for label := 0; label < 3; label++ {
		if err := memory.Append(newLabelled(float64(label))); err != nil {
			t.Fatalf("could not append transition %v: %v", label, err)
		}
	}

	batch, aux, err := memory.Sample(10)
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	if batch.Len() != 10 {
		t.Fatalf("batch length \n\twant(%v)\n\thave(%v)", 10, batch.Len())
	}
	for i, r := range batch.Rewards() {
		if r < 0 || r > 2 {
			t.Errorf("sample %v drawn from an unwritten slot, label %v", i,
				r)
		}
	}
	if err := aux.Check(10); err != nil {
		t.Errorf("invalid auxiliary data: %v", err)
	}
	for i, w := range aux.Weights {
		if w != 1 {
			t.Errorf("uniform sample weight %v \n\twant(%v)\n\thave(%v)",
				i, 1.0, w)
		}
	}
}

// Priority sampling must refresh the priorities of the sampled
// transitions from the error function and return importance weights
// normalized so the largest is 1.
func TestSampleByPriority(t *testing.T) {
	memory := newTestMemory(t, 5)
	for label := 0; label < 5; label++ {
		if err := memory.Append(newLabelled(float64(label))); err != nil {
			t.Fatalf("could not append transition %v: %v", label, err)
		}
	}

	errFn := func(b *timestep.Batch) []float64 {
		// Score each sampled transition with its label, negated to
		// check that priorities use the magnitude
		errs := make([]float64, b.Len())
		for i, r := range b.Rewards() {
			errs[i] = -r
		}
		return errs
	}

	batch, aux, err := memory.SampleByPriority(20, errFn)
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}
	if batch.Len() != 20 {
		t.Fatalf("batch length \n\twant(%v)\n\thave(%v)", 20, batch.Len())
	}

	if err := aux.Check(20); err != nil {
		t.Fatalf("invalid auxiliary data: %v", err)
	}
	maxWeight := 0.0
	for i, w := range aux.Weights {
		if w <= 0 || w > 1 {
			t.Errorf("importance weight %v out of (0, 1]: %v", i, w)
		}
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight != 1 {
		t.Errorf("largest importance weight \n\twant(%v)\n\thave(%v)", 1.0,
			maxWeight)
	}

	// Sampled slots now carry |label| + minPriority
	for slot := 0; slot < 5; slot++ {
		p := memory.priorityCache[slot]
		want := float64(slot) + minPriority
		if p != 1.0 && math.Abs(p-want) > 1e-12 {
			t.Errorf("slot %v priority \n\twant(%v or untouched)"+
				"\n\thave(%v)", slot, want, p)
		}
	}

	if _, _, err := memory.SampleByPriority(1, nil); err == nil {
		t.Error("expected error for nil error function, got nil")
	}
}

// collector is a Collector producing labelled transitions in sequence
type collector struct {
	next float64
}

func (c *collector) Collect(n int) ([]timestep.Transition, error) {
	out := make([]timestep.Transition, n)
	for i := range out {
		out[i] = newLabelled(c.next)
		c.next++
	}
	return out, nil
}

func TestEarlyStart(t *testing.T) {
	memory := newTestMemory(t, 10)

	transitions, err := memory.EarlyStart(4, &collector{})
	if err != nil {
		t.Fatalf("could not early start: %v", err)
	}

	if len(transitions) != 4 {
		t.Errorf("collected transitions \n\twant(%v)\n\thave(%v)", 4,
			len(transitions))
	}
	if size := memory.Size(); size != 4 {
		t.Errorf("size after early start \n\twant(%v)\n\thave(%v)", 4,
			size)
	}

	if _, err := memory.EarlyStart(0, &collector{}); err == nil {
		t.Error("expected error for non-positive n, got nil")
	}
	if _, err := memory.EarlyStart(1, nil); err == nil {
		t.Error("expected error for nil collector, got nil")
	}
}

// Transform application must hold the memory's lock so that a
// concurrent append never mutates transform statistics mid-read.
func TestApplyTransformsConcurrentAppend(t *testing.T) {
	normalizer, err := NewObsNormalizer(2, 0)
	if err != nil {
		t.Fatalf("could not create normalizer: %v", err)
	}
	memory := newTestMemory(t, 50, normalizer)
	if err := memory.Append(newLabelled(1)); err != nil {
		t.Fatalf("could not append transition: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			memory.Append(newLabelled(float64(i)))
		}
	}()

	for i := 0; i < 500; i++ {
		if _, err := memory.ApplyTransforms([]float64{1, -1}); err != nil {
			t.Errorf("could not apply transforms: %v", err)
			break
		}
	}
	wg.Wait()
}

// Appends must feed each new observation to the registered transforms,
// and ApplyTransforms must run data through the pipeline.
func TestTransformPipeline(t *testing.T) {
	normalizer, err := NewObsNormalizer(2, 0)
	if err != nil {
		t.Fatalf("could not create normalizer: %v", err)
	}
	memory := newTestMemory(t, 5, normalizer)

	// Applying before any data is an error
	if _, err := memory.ApplyTransforms([]float64{0, 0}); err == nil {
		t.Error("expected error before any observations, got nil")
	}

	for i := 0; i < 3; i++ {
		if err := memory.Append(newLabelled(2)); err != nil {
			t.Fatalf("could not append transition %v: %v", i, err)
		}
	}

	if count := normalizer.Stat().Count(); count != 3 {
		t.Errorf("transform observation count \n\twant(%v)\n\thave(%v)",
			3.0, count)
	}

	// Every observed state was (2, -2), so normalizing it yields zero
	out, err := memory.ApplyTransforms([]float64{2, -2})
	if err != nil {
		t.Fatalf("could not apply transforms: %v", err)
	}
	for i, v := range out {
		if v != 0 {
			t.Errorf("normalized feature %v \n\twant(%v)\n\thave(%v)", i,
				0.0, v)
		}
	}
}
