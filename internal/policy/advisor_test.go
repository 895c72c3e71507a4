package policy

import (
	"context"
	"fmt"
	"math"
	"testing"
)

func seedEvents(t *testing.T, root string, fn func(l *Logger)) {
	t.Helper()
	l := NewLogger(root, LoggerOptions{})
	fn(l)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRollingWindowRecentAverage(t *testing.T) {
	root := t.TempDir()
	seedEvents(t, root, func(l *Logger) {
		for i := 1; i <= 60; i++ {
			l.RecordPhaseEnd(PhaseEvent{
				Phase:      "phase3",
				Status:     "success",
				DurationMS: float64(i),
			})
		}
	})

	advisor := NewAdvisor(root)
	avg, err := advisor.PhaseRecentAverage(context.Background(), "phase3")
	if err != nil {
		t.Fatalf("PhaseRecentAverage: %v", err)
	}
	// Window of 40 over values 1..60 keeps 21..60; mean = (21+60)/2.
	if math.Abs(avg-40.5) > 1e-9 {
		t.Errorf("recent average = %v, want 40.5", avg)
	}
}

func TestSetWindowNarrowsStats(t *testing.T) {
	root := t.TempDir()
	seedEvents(t, root, func(l *Logger) {
		for i := 1; i <= 60; i++ {
			l.RecordPhaseEnd(PhaseEvent{
				Phase:      "phase3",
				Status:     "success",
				DurationMS: float64(i),
			})
		}
	})

	advisor := NewAdvisor(root)
	advisor.SetWindow(10)
	avg, err := advisor.PhaseRecentAverage(context.Background(), "phase3")
	if err != nil {
		t.Fatalf("PhaseRecentAverage: %v", err)
	}
	// Window of 10 over values 1..60 keeps 51..60; mean = (51+60)/2.
	if math.Abs(avg-55.5) > 1e-9 {
		t.Errorf("recent average = %v, want 55.5", avg)
	}

	// Widening again rebuilds from the same logs.
	advisor.SetWindow(40)
	avg, err = advisor.PhaseRecentAverage(context.Background(), "phase3")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(avg-40.5) > 1e-9 {
		t.Errorf("recent average after widen = %v, want 40.5", avg)
	}
}

func TestSeriesPercentiles(t *testing.T) {
	s := series{window: RollingWindow}
	for i := 1; i <= 100; i++ {
		s.push(float64(i))
	}
	// Only the last 40 values (61..100) remain.
	stats := s.stats()
	if stats.Count != RollingWindow {
		t.Fatalf("count = %d, want %d", stats.Count, RollingWindow)
	}
	if stats.Min != 61 || stats.Max != 100 {
		t.Errorf("min/max = %v/%v, want 61/100", stats.Min, stats.Max)
	}
	if stats.P50 != 80 {
		t.Errorf("p50 = %v, want 80", stats.P50)
	}
	if stats.P99 != 100 {
		t.Errorf("p99 = %v, want 100", stats.P99)
	}
}

func TestChunkSizeSuggestions(t *testing.T) {
	cases := []struct {
		name       string
		durationMS float64
		action     string
	}{
		{"slow chunking", 700_000, "reduce"},
		{"fast chunking", 60_000, "increase"},
		{"in band", 300_000, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			seedEvents(t, root, func(l *Logger) {
				for i := 0; i < 10; i++ {
					l.RecordPhaseEnd(PhaseEvent{
						Phase: "phase3", Status: "success", DurationMS: tc.durationMS,
					})
				}
			})

			bundle, err := NewAdvisor(root).Advise(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			s, ok := bundle.Suggestions["chunk_size"]
			if tc.action == "" {
				if ok {
					t.Fatalf("unexpected suggestion %+v", s)
				}
				return
			}
			if !ok {
				t.Fatal("expected chunk_size suggestion")
			}
			if s.Action != tc.action {
				t.Errorf("action = %q, want %q", s.Action, tc.action)
			}
			if s.Confidence <= 0 {
				t.Errorf("confidence = %v, want > 0", s.Confidence)
			}
		})
	}
}

func TestRetryPolicySuggestions(t *testing.T) {
	t.Run("high failure rate", func(t *testing.T) {
		root := t.TempDir()
		seedEvents(t, root, func(l *Logger) {
			for i := 0; i < 10; i++ {
				l.RecordPhaseEnd(PhaseEvent{Phase: "phase4", Status: "success"})
			}
			for i := 0; i < 10; i++ {
				l.RecordFailure(PhaseEvent{Phase: "phase4", Status: "failed"})
			}
		})
		bundle, err := NewAdvisor(root).Advise(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		s, ok := bundle.Suggestions["retry_policy"]
		if !ok {
			t.Fatal("expected retry_policy suggestion at 50% failure rate")
		}
		if s.Value != 4 {
			t.Errorf("suggested retries = %v, want 4", s.Value)
		}
	})

	t.Run("low failure rate", func(t *testing.T) {
		root := t.TempDir()
		seedEvents(t, root, func(l *Logger) {
			for i := 0; i < 50; i++ {
				l.RecordPhaseEnd(PhaseEvent{Phase: "phase4", Status: "success"})
			}
			l.RecordFailure(PhaseEvent{Phase: "phase4", Status: "failed"})
		})
		bundle, err := NewAdvisor(root).Advise(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		s, ok := bundle.Suggestions["retry_policy"]
		if !ok {
			t.Fatal("expected retry_policy suggestion at ~2% failure rate")
		}
		if s.Value != 1 {
			t.Errorf("suggested retries = %v, want 1", s.Value)
		}
	})
}

func TestVoiceVariantSuggestion(t *testing.T) {
	root := t.TempDir()
	seedEvents(t, root, func(l *Logger) {
		l.RecordFailure(PhaseEvent{Phase: "phase4", FileID: "stubborn_book", Status: "failed"})
		l.RecordFailure(PhaseEvent{Phase: "phase4", FileID: "stubborn_book", Status: "failed"})
	})

	bundle, err := NewAdvisor(root).Advise(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s, ok := bundle.Suggestions["voice_variant"]
	if !ok {
		t.Fatal("expected voice_variant suggestion after 2 phase-4 failures")
	}
	if s.Value != "stubborn_book" {
		t.Errorf("value = %v, want stubborn_book", s.Value)
	}
}

func TestAdvisorCacheToken(t *testing.T) {
	root := t.TempDir()
	seedEvents(t, root, func(l *Logger) {
		l.RecordPhaseEnd(PhaseEvent{Phase: "phase1", Status: "success", DurationMS: 100})
	})

	advisor := NewAdvisor(root)
	first, err := advisor.Advise(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.EventCount != 1 {
		t.Fatalf("event count = %d, want 1", first.EventCount)
	}

	// Append more events; the directory token changes and stats rebuild.
	seedEvents(t, root, func(l *Logger) {
		for i := 0; i < 5; i++ {
			l.RecordPhaseEnd(PhaseEvent{Phase: "phase1", Status: "success", DurationMS: 100})
		}
	})
	second, err := advisor.Advise(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.EventCount != 6 {
		t.Errorf("event count after append = %d, want 6", second.EventCount)
	}
}

func TestRewardFormula(t *testing.T) {
	cases := []struct {
		in   RewardInputs
		want float64
	}{
		{RewardInputs{}, 1.0},
		{RewardInputs{Failed: true}, -0.5},
		{RewardInputs{FallbackRate: 1}, 0.5},
		{RewardInputs{RTFactor: 3}, 0.9},
		{RewardInputs{RTFactor: 1.5}, 1.0},
		{RewardInputs{Hallucination: 1}, 0.7},
		{RewardInputs{Failed: true, FallbackRate: 0.5, RTFactor: 4, Hallucination: 1}, 1 - 1.5 - 0.25 - 0.2 - 0.3},
	}
	for i, tc := range cases {
		if got := Reward(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("case %d: Reward = %v, want %v", i, got, tc.want)
		}
	}
}

func TestRewardSafetyFlags(t *testing.T) {
	root := t.TempDir()
	// Every run fails badly, driving the average below both revert
	// thresholds.
	for i := 0; i < 3; i++ {
		l := NewLogger(root, LoggerOptions{RunID: fmt.Sprintf("run-20260101T00000%d-deadbeef", i)})
		l.RecordFailure(PhaseEvent{
			Phase: "phase4", Status: "failed",
			Metrics: map[string]float64{
				MetricFallbackRate:  1,
				MetricRTFactor:      4,
				MetricHallucination: 1,
			},
		})
		l.Close()
	}

	bundle, err := NewAdvisor(root).Advise(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	flags := map[string]bool{}
	for _, f := range bundle.Reward.SafetyFlags {
		flags[f] = true
	}
	if !flags[FlagRevertChunk] {
		t.Error("expected revert_chunk flag")
	}
	if !flags[FlagRevertEngine] {
		t.Error("expected revert_engine flag")
	}
	if bundle.Reward.Average >= -0.5 {
		t.Errorf("reward average = %v, want < -0.5", bundle.Reward.Average)
	}
}
