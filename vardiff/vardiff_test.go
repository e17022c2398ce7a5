package vardiff

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MinDiff:         1,
		MaxDiff:         1_000_000,
		TargetTime:      10 * time.Second,
		RetargetTime:    90 * time.Second,
		VariancePercent: 30,
	}
}

func TestShare_FirstCallNeverRetargets(t *testing.T) {
	s := New(testConfig())
	now := time.Unix(1000, 0)
	diff, ok := s.Share(now, 16, 0)
	if ok {
		t.Fatalf("first call should never trigger a retarget")
	}
	if diff != 16 {
		t.Fatalf("diff changed on first call: got %v", diff)
	}
}

func TestShare_WithinRetargetWindowNoChange(t *testing.T) {
	s := New(testConfig())
	now := time.Unix(1000, 0)
	s.Share(now, 16, 0)

	// Second share arrives 1s later, way outside the target band, but
	// RetargetTime (90s) hasn't elapsed since the first decision yet.
	diff, ok := s.Share(now.Add(1*time.Second), 16, 0)
	if ok {
		t.Fatalf("retarget should not fire before RetargetTime has elapsed")
	}
	if diff != 16 {
		t.Fatalf("diff changed early: got %v", diff)
	}
}

func TestShare_RetargetsUpwardWhenSharesTooFast(t *testing.T) {
	cfg := testConfig()
	s := New(cfg)
	now := time.Unix(1000, 0)
	s.Share(now, 16, 0)

	// Feed shares arriving every 1s (far below the 10s target) for longer
	// than RetargetTime so a retarget becomes due.
	var diff float64 = 16
	var ok bool
	for i := 1; i <= 100; i++ {
		now = now.Add(1 * time.Second)
		diff, ok = s.Share(now, diff, 0)
		if ok {
			break
		}
	}
	if !ok {
		t.Fatalf("expected a retarget after sustained fast shares")
	}
	if diff <= 16 {
		t.Fatalf("expected diff to increase, got %v", diff)
	}
}

func TestShare_RetargetsDownwardWhenSharesTooSlow(t *testing.T) {
	cfg := testConfig()
	s := New(cfg)
	now := time.Unix(1000, 0)
	s.Share(now, 1000, 0)

	var diff float64 = 1000
	var ok bool
	for i := 1; i <= 15; i++ {
		now = now.Add(60 * time.Second)
		diff, ok = s.Share(now, diff, 0)
		if ok {
			break
		}
	}
	if !ok {
		t.Fatalf("expected a retarget after sustained slow shares")
	}
	if diff >= 1000 {
		t.Fatalf("expected diff to decrease, got %v", diff)
	}
}

func TestShare_ClampsToMaxDiff(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDiff = 20
	s := New(cfg)
	now := time.Unix(1000, 0)
	s.Share(now, 16, 0)

	var diff float64 = 16
	for i := 1; i <= 100; i++ {
		now = now.Add(1 * time.Second)
		diff, _ = s.Share(now, diff, 0)
	}
	if diff > 20 {
		t.Fatalf("diff %v exceeds MaxDiff 20", diff)
	}
}

func TestShare_ClampsToMinDiff(t *testing.T) {
	cfg := testConfig()
	cfg.MinDiff = 500
	s := New(cfg)
	now := time.Unix(1000, 0)
	s.Share(now, 1000, 0)

	var diff float64 = 1000
	for i := 1; i <= 15; i++ {
		now = now.Add(60 * time.Second)
		diff, _ = s.Share(now, diff, 0)
	}
	if diff < 500 {
		t.Fatalf("diff %v below MinDiff 500", diff)
	}
}

func TestShare_MaxDiffDefaultsToNetworkDifficulty(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDiff = 0
	s := New(cfg)
	now := time.Unix(1000, 0)
	s.Share(now, 16, 25)

	var diff float64 = 16
	for i := 1; i <= 100; i++ {
		now = now.Add(1 * time.Second)
		diff, _ = s.Share(now, diff, 25)
	}
	if diff > 25 {
		t.Fatalf("diff %v exceeds network difficulty fallback of 25", diff)
	}
}

func TestHistoryBufferNeverExceedsCapacity(t *testing.T) {
	s := New(testConfig())
	now := time.Unix(1000, 0)
	s.Share(now, 16, 0)
	for i := 0; i < historyCapacity*5; i++ {
		now = now.Add(500 * time.Millisecond)
		s.Share(now, 16, 0)
		if s.len > historyCapacity {
			t.Fatalf("history length %d exceeds capacity %d", s.len, historyCapacity)
		}
	}
}

func TestTick_DoesNotPushIntoBuffer(t *testing.T) {
	s := New(testConfig())
	now := time.Unix(1000, 0)
	s.Share(now, 16, 0)
	s.Share(now.Add(10*time.Second), 16, 0)
	lenBefore := s.len
	// Inside RetargetTime no retarget applies, so the buffer is untouched.
	s.Tick(now.Add(20*time.Second), 16, 0)
	if s.len != lenBefore {
		t.Fatalf("Tick mutated buffer length: before=%d after=%d", lenBefore, s.len)
	}
	// A retarget applied by Tick clears the buffer, as it does for Share.
	if _, ok := s.Tick(now.Add(200*time.Second), 16, 0); !ok {
		t.Fatalf("expected Tick to retarget after 190s without shares")
	}
	if s.len != 0 {
		t.Fatalf("retargeting Tick left %d intervals in the buffer", s.len)
	}
}
