package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	hist     []Labels
	flushes  int
}

func newRecorder() *recorder { return &recorder{counters: map[string]float64{}} }

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"/"+labels["status"]] += delta
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist = append(r.hist, labels)
}

func (r *recorder) Flush() error {
	r.flushes++
	return nil
}

// Тесты меняют глобальный бэкенд, поэтому без t.Parallel.
func TestBackendSwap(t *testing.T) {
	rec := newRecorder()
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter(UploadsTotal, 2, Labels{"status": "ok"})
	IncCounter(UploadsTotal, 1, Labels{"status": "ok"})
	ObserveStep("combine", time.Now(), errors.New("x"))
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := rec.counters[UploadsTotal+"/ok"]; got != 3 {
		t.Fatalf("counter = %v, want 3", got)
	}
	if len(rec.hist) != 1 || rec.hist[0]["step"] != "combine" || rec.hist[0]["status"] != "error" {
		t.Fatalf("hist = %v", rec.hist)
	}
	if rec.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", rec.flushes)
	}
}

func TestNopBackend(t *testing.T) {
	SetBackend(nil)
	IncCounter(CombineTotal, 1, nil)
	ObserveHistogram(StepDurationSecond, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush on nop = %v, want nil", err)
	}
}
