// Package segment computes where each statement sits inside a merged video.
package segment

import (
	"fmt"
	"math"
)

// DefaultEpsilon is the tolerance used when comparing boundaries, in seconds.
const DefaultEpsilon = 1e-3

// Segment is the time range of one statement within the merged artifact.
// Start is inclusive and End exclusive.
type Segment struct {
	StatementIndex int     `json:"statement_index"`
	Start          float64 `json:"start_time"`
	End            float64 `json:"end_time"`
	Duration       float64 `json:"duration"`
}

// Compute lays durations end to end in statement order. Boundaries are
// accumulated rather than summed independently so the last End equals the
// running total exactly.
func Compute(durations []float64) ([]Segment, error) {
	if len(durations) == 0 {
		return nil, fmt.Errorf("no durations")
	}
	segments := make([]Segment, len(durations))
	var cursor float64
	for i, d := range durations {
		if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
			return nil, fmt.Errorf("statement %d: invalid duration %v", i, d)
		}
		end := cursor + d
		segments[i] = Segment{StatementIndex: i, Start: cursor, End: end, Duration: end - cursor}
		cursor = end
	}
	return segments, nil
}

// Total returns the end of the final segment.
func Total(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].End
}

// Validate checks the segment list starts at zero, is contiguous and ordered,
// and ends at total, all within epsilon.
func Validate(segments []Segment, total, epsilon float64) error {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if len(segments) == 0 {
		return fmt.Errorf("no segments")
	}
	if math.Abs(segments[0].Start) > epsilon {
		return fmt.Errorf("first segment starts at %.3fs, want 0", segments[0].Start)
	}
	for i, seg := range segments {
		if seg.StatementIndex != i {
			return fmt.Errorf("segment %d has statement index %d", i, seg.StatementIndex)
		}
		if seg.End <= seg.Start {
			return fmt.Errorf("segment %d is empty (%.3f-%.3f)", i, seg.Start, seg.End)
		}
		if math.Abs((seg.End-seg.Start)-seg.Duration) > epsilon {
			return fmt.Errorf("segment %d duration %.3f does not match bounds %.3f-%.3f", i, seg.Duration, seg.Start, seg.End)
		}
		if i > 0 && math.Abs(segments[i-1].End-seg.Start) > epsilon {
			return fmt.Errorf("gap between segment %d and %d (%.3f vs %.3f)", i-1, i, segments[i-1].End, seg.Start)
		}
	}
	if last := Total(segments); math.Abs(last-total) > epsilon {
		return fmt.Errorf("last segment ends at %.3fs, artifact is %.3fs", last, total)
	}
	return nil
}

// Rescale stretches segments proportionally so they end at total. Used when the
// container reports a total that differs slightly from the summed inputs.
func Rescale(segments []Segment, total float64) []Segment {
	current := Total(segments)
	if current <= 0 || total <= 0 {
		return segments
	}
	factor := total / current
	out := make([]Segment, len(segments))
	var cursor float64
	for i, seg := range segments {
		end := seg.End * factor
		if i == len(segments)-1 {
			end = total
		}
		out[i] = Segment{StatementIndex: seg.StatementIndex, Start: cursor, End: end, Duration: end - cursor}
		cursor = end
	}
	return out
}
