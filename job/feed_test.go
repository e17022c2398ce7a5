package job

import (
	"testing"
	"time"
)

func TestNextBackoffDoublesUpToMax(t *testing.T) {
	cur := time.Second
	max := 30 * time.Second
	for i := 0; i < 10; i++ {
		cur = nextBackoff(cur, max)
		if cur > max {
			t.Fatalf("nextBackoff exceeded max: %v > %v", cur, max)
		}
	}
	if cur != max {
		t.Fatalf("expected backoff to saturate at %v, got %v", max, cur)
	}
}

type lpTemplate struct {
	fakeTemplate
	longPollID string
}

func (t lpTemplate) LongPollID() string { return t.longPollID }

func TestLongPollTemplateAssertion(t *testing.T) {
	var tpl Template = lpTemplate{longPollID: "abc"}
	lp, ok := tpl.(longPollTemplate)
	if !ok {
		t.Fatalf("expected lpTemplate to satisfy longPollTemplate")
	}
	if lp.LongPollID() != "abc" {
		t.Fatalf("got %q, want %q", lp.LongPollID(), "abc")
	}

	var plain Template = fakeTemplate{}
	if _, ok := plain.(longPollTemplate); ok {
		t.Fatalf("fakeTemplate should not satisfy longPollTemplate")
	}
}
