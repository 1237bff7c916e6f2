package stage

import (
	"math"
	"strings"
	"testing"

	"triad/internal/media"
)

func TestIndexAndFraction(t *testing.T) {
	if Index(Analysis) != 0 || Index(Cleanup) != 5 || Index("rip") != -1 {
		t.Fatalf("unexpected stage indices")
	}
	cases := []struct {
		index   int
		percent float64
		want    float64
	}{
		{-1, 50, 0},
		{0, 0, 0},
		{0, 100, 1.0 / 6},
		{3, 50, 3.5 / 6},
		{5, 100, 1},
		{5, 400, 1},
	}
	for _, tc := range cases {
		if got := Fraction(tc.index, tc.percent); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Fraction(%d, %v) = %v, want %v", tc.index, tc.percent, got, tc.want)
		}
	}
}

func TestRunPaths(t *testing.T) {
	run := &Run{WorkDir: "/work/job-1", Profile: media.Profile{Container: "mp4"}}
	if got := run.NormalizedPath(2); got != "/work/job-1/statement-2.norm.mkv" {
		t.Fatalf("NormalizedPath = %s", got)
	}
	if !strings.HasSuffix(run.CompressedPath(), "merged.mp4") {
		t.Fatalf("CompressedPath = %s", run.CompressedPath())
	}
	run.Normalized = []media.Info{{Duration: 1.5}, {Duration: 2}}
	if d := run.Durations(); len(d) != 2 || d[0] != 1.5 {
		t.Fatalf("Durations = %v", d)
	}

	var nilRun *Run
	nilRun.ReportProgress(10)
	nilRun.SetWaiting(true)
}
