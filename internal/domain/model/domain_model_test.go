//go:build !integration

package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"video-subtitler/internal/domain"
)

// --- Job Model Tests ---

func TestNewJob(t *testing.T) {
	t.Run("should create a pending job", func(t *testing.T) {
		now := time.Now()
		job, err := NewJob("j1", "fp", "ref.mp4", 3, now)

		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if job.State != JobStatePending {
			t.Errorf("expected state PENDING, but got %s", job.State)
		}
		if job.Progress != 0 || job.RetryCount != 0 {
			t.Errorf("expected zero progress and retries, got %d/%d", job.Progress, job.RetryCount)
		}
		if !job.CreatedAt.Equal(job.UpdatedAt) {
			t.Error("expected created_at == updated_at on creation")
		}
	})

	t.Run("should reject missing fingerprint", func(t *testing.T) {
		_, err := NewJob("j1", "", "ref.mp4", 3, time.Now())
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, but got %v", err)
		}
	})
}

func TestJobLifecycle(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("should run to success", func(t *testing.T) {
		job, _ := NewJob("j1", "fp", "ref", 3, t0)

		if err := job.Start(t0.Add(time.Second)); err != nil {
			t.Fatalf("start: %v", err)
		}
		if !job.SetProgress(40, t0.Add(2*time.Second)) {
			t.Error("expected progress update to apply")
		}
		if err := job.Succeed([]Segment{{Start: 0, End: 1, Text: "a"}}, t0.Add(3*time.Second)); err != nil {
			t.Fatalf("succeed: %v", err)
		}

		if job.State != JobStateSucceeded || job.Progress != 100 {
			t.Errorf("expected SUCCEEDED at 100, got %s at %d", job.State, job.Progress)
		}
		if !job.UpdatedAt.Equal(t0.Add(3 * time.Second)) {
			t.Errorf("expected updated_at refreshed, got %v", job.UpdatedAt)
		}
		if job.Error != nil {
			t.Error("expected no error on succeeded job")
		}
	})

	t.Run("should keep progress monotonic", func(t *testing.T) {
		job, _ := NewJob("j1", "fp", "ref", 3, t0)
		_ = job.Start(t0)

		job.SetProgress(50, t0)
		if job.SetProgress(30, t0) {
			t.Error("expected regression to be ignored")
		}
		job.SetProgress(250, t0)

		if job.Progress != 100 {
			t.Errorf("expected progress clamped to 100, got %d", job.Progress)
		}
	})

	t.Run("should ignore progress unless running", func(t *testing.T) {
		job, _ := NewJob("j1", "fp", "ref", 3, t0)
		if job.SetProgress(10, t0) {
			t.Error("expected pending job to ignore progress")
		}
	})

	t.Run("should bound retries", func(t *testing.T) {
		job, _ := NewJob("j1", "fp", "ref", 2, t0)
		for i := 0; i < 2; i++ {
			if err := job.Start(t0); err != nil {
				t.Fatalf("start %d: %v", i, err)
			}
			if err := job.Retry(t0); err != nil {
				t.Fatalf("retry %d: %v", i, err)
			}
		}
		_ = job.Start(t0)

		err := job.Retry(t0)

		if !errors.Is(err, domain.ErrRetriesExhausted) {
			t.Fatalf("expected ErrRetriesExhausted, got %v", err)
		}
		if job.RetryCount != 2 {
			t.Errorf("expected retry_count 2, got %d", job.RetryCount)
		}
	})

	t.Run("terminal states are immutable", func(t *testing.T) {
		job, _ := NewJob("j1", "fp", "ref", 3, t0)
		_ = job.Start(t0)
		_ = job.Fail(JobError{Kind: domain.KindProcessingFatal, Code: "x", Message: "boom"}, t0)

		if err := job.Start(t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition from FAILED, got %v", err)
		}
		if err := job.Succeed(nil, t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition from FAILED, got %v", err)
		}
	})
}

func TestJobJSON(t *testing.T) {
	t.Run("succeeded job with no segments keeps an empty result", func(t *testing.T) {
		// Arrange
		job, _ := NewJob("j1", "fp", "ref.mp4", 3, time.Now())
		_ = job.Start(time.Now())
		_ = job.Succeed(nil, time.Now())

		// Act
		b, err := json.Marshal(job.Clone())

		// Assert
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(b), `"result":[]`) {
			t.Errorf("expected empty result array, got %s", b)
		}
		var back Job
		if err := json.Unmarshal(b, &back); err != nil || back.Result == nil {
			t.Errorf("expected non-nil result after decode, got %v (%v)", back.Result, err)
		}
	})
}

func TestValidTargetDB(t *testing.T) {
	for _, tc := range []struct {
		db   float64
		want bool
	}{
		{DefaultTargetDB, true},
		{MinTargetDB, true},
		{MaxTargetDB, true},
		{-4, false},
		{-71, false},
	} {
		if got := ValidTargetDB(tc.db); got != tc.want {
			t.Errorf("ValidTargetDB(%v) = %v, want %v", tc.db, got, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobStatePending, JobStateRunning, true},
		{JobStatePending, JobStateSucceeded, false},
		{JobStateRunning, JobStateRetrying, true},
		{JobStateRetrying, JobStateRunning, true},
		{JobStateRetrying, JobStateSucceeded, false},
		{JobStateSucceeded, JobStateRunning, false},
		{JobStateFailed, JobStateRetrying, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// --- Segment Tests ---

func TestShiftSegments(t *testing.T) {
	segs := []Segment{{Start: 0, End: 2, Text: "a"}, {Start: 1.3, End: 4.75, Text: "b"}}

	t.Run("should shift and round trip", func(t *testing.T) {
		shifted := ShiftSegments(segs, 2.7)
		back := ShiftSegments(shifted, -2.7)

		for i := range segs {
			if back[i].Start != segs[i].Start || back[i].End != segs[i].End {
				t.Errorf("segment %d: expected %v, got %v", i, segs[i], back[i])
			}
		}
	})

	t.Run("should clamp at zero", func(t *testing.T) {
		shifted := ShiftSegments(segs, -1.5)

		if shifted[0].Start != 0 || shifted[0].End != 0.5 {
			t.Errorf("expected [0, 0.5], got [%v, %v]", shifted[0].Start, shifted[0].End)
		}
	})

	t.Run("should not mutate input", func(t *testing.T) {
		_ = ShiftSegments(segs, 10)
		if segs[0].End != 2 {
			t.Error("expected input slice untouched")
		}
	})
}

func TestMergeNearby(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 1, Text: "hello", Confidence: 0.9},
		{Start: 1.1, End: 2, Text: "world", Confidence: 0.7},
		{Start: 3, End: 4, Text: "again", Confidence: 0.8},
	}

	merged := MergeNearby(segs, 0.3)

	if len(merged) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(merged))
	}
	if merged[0].Text != "hello world" || merged[0].End != 2 {
		t.Errorf("unexpected merge result: %+v", merged[0])
	}
	if merged[0].Confidence != 0.7 {
		t.Errorf("expected lowest confidence kept, got %v", merged[0].Confidence)
	}

	t.Run("gap equal to the threshold is merged", func(t *testing.T) {
		segs := []Segment{
			{Start: 0, End: 2, Text: "edge", Confidence: 0.9},
			{Start: 2.25, End: 3, Text: "case", Confidence: 0.9},
			{Start: 3.5, End: 4, Text: "apart", Confidence: 0.9},
		}

		merged := MergeNearby(segs, 0.25)

		if len(merged) != 2 || merged[0].Text != "edge case" || merged[0].End != 3 {
			t.Errorf("expected touching gap merged, got %+v", merged)
		}
	})
}

// --- RateWindow Tests ---

func TestRateWindow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("should cap within window and reset after", func(t *testing.T) {
		w := &RateWindow{Identity: "ip", WindowStart: t0}

		for i := 0; i < 10; i++ {
			if !w.Take(t0.Add(time.Minute), time.Hour, 10) {
				t.Fatalf("request %d unexpectedly rejected", i+1)
			}
		}
		if w.Take(t0.Add(time.Minute), time.Hour, 10) {
			t.Error("expected 11th request to be rejected")
		}
		if w.Count != 10 {
			t.Errorf("expected count to stay at ceiling, got %d", w.Count)
		}

		if !w.Take(t0.Add(time.Hour+time.Second), time.Hour, 10) {
			t.Error("expected request after window expiry to be accepted")
		}
		if w.Count != 1 {
			t.Errorf("expected count reset to 1, got %d", w.Count)
		}
	})
}
