package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	steps := []struct {
		stage   string
		percent float64
		want    bool
	}{
		{"compression", 0, true},
		{"compression", 10, false},
		{"compression", 25, true},
		{"compression", 30, false},
		{"compression", 120, true},
		{"compression", 100, false},
		{"storage_upload", 5, true},
		{" storage_upload ", -1, false},
		{"", 60, true},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.stage, step.percent); got != step.want {
			t.Fatalf("step %d (%s %.0f): got %v want %v", i, step.stage, step.percent, got, step.want)
		}
	}
}

func TestProgressSamplerDefaultsAndReset(t *testing.T) {
	s := NewProgressSampler(0)
	if s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
	s.ShouldLog("merging", 50)
	s.Reset()
	if !s.ShouldLog("merging", 50) {
		t.Fatal("expected emit after reset")
	}

	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog("x", 1) {
		t.Fatal("nil sampler should always log")
	}
	nilSampler.Reset()
}
