package model

import (
	"math"
	"strings"
)

// Segment is one timed unit of transcribed text. Times are seconds.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (s Segment) Duration() float64 { return s.End - s.Start }

// roundMillis keeps shifted timestamps on the millisecond grid used by subtitle formats.
func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ShiftSegments returns a copy of segs with offset seconds added to every
// timestamp. Results below zero are clamped to zero.
func ShiftSegments(segs []Segment, offset float64) []Segment {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		s.Start = roundMillis(math.Max(0, s.Start+offset))
		s.End = roundMillis(math.Max(0, s.End+offset))
		out[i] = s
	}
	return out
}

// MergeNearby joins consecutive segments whose gap is at most threshold seconds.
func MergeNearby(segs []Segment, threshold float64) []Segment {
	if len(segs) == 0 || threshold <= 0 {
		return segs
	}
	out := make([]Segment, 0, len(segs))
	cur := segs[0]
	for _, next := range segs[1:] {
		if next.Start-cur.End <= threshold {
			cur.End = math.Max(cur.End, next.End)
			cur.Text = strings.TrimSpace(cur.Text + " " + next.Text)
			cur.Confidence = math.Min(cur.Confidence, next.Confidence)
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}
