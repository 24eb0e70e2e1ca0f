package metrics

import (
	"testing"
	"time"
)

type recorder struct {
	counters map[string]float64
	samples  []float64
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.counters[name+"|"+labels["kind"]+labels["step"]+labels["status"]] += delta
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.samples = append(r.samples, value)
}

func (r *recorder) Flush() error { return nil }

func TestFacade_RoutesToBackend(t *testing.T) {
	r := &recorder{counters: map[string]float64{}}
	SetBackend(r)
	defer SetBackend(nil)

	AddRecords("inserted", 3)
	AddRecords("inserted", 0)
	RecordStep("load", "ok", 1500*time.Millisecond)

	if r.counters[RecordsTotal+"|inserted"] != 3 {
		t.Fatalf("records = %v", r.counters)
	}
	if r.counters[StepTotal+"|loadok"] != 1 {
		t.Fatalf("steps = %v", r.counters)
	}
	if len(r.samples) != 1 || r.samples[0] != 1.5 {
		t.Fatalf("samples = %v", r.samples)
	}
}

func TestFacade_DefaultIsNoop(t *testing.T) {
	SetBackend(nil)
	IncCounter("x", 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
