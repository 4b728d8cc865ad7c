package registry

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusCreated, StatusQueued},
		{StatusQueued, StatusInitializing},
		{StatusQueued, StatusFailed},
		{StatusQueued, StatusCancelled},
		{StatusInitializing, StatusRunning},
		{StatusInitializing, StatusFailed},
		{StatusInitializing, StatusCancelled},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
		{StatusFailed, StatusQueued},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusCreated, StatusRunning},
		{StatusCreated, StatusInitializing},
		{StatusQueued, StatusCompleted},
		{StatusCompleted, StatusQueued},
		{StatusCompleted, StatusFailed},
		{StatusCancelled, StatusRunning},
		{StatusCancelled, StatusQueued},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus(" Running "); !ok || status != StatusRunning {
		t.Fatalf("expected running, got %q ok=%v", status, ok)
	}
	if _, ok := ParseStatus("ripping"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("expected empty status to be rejected")
	}
}

func TestParseQuality(t *testing.T) {
	for raw, want := range map[string]Quality{
		"low":    QualityLow,
		"MEDIUM": QualityMedium,
		" high ": QualityHigh,
	} {
		got, ok := ParseQuality(raw)
		if !ok || got != want {
			t.Fatalf("ParseQuality(%q) = %q ok=%v, want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseQuality("ultra"); ok {
		t.Fatal("expected unknown quality to be rejected")
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !status.Terminal() {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	for _, status := range []Status{StatusCreated, StatusQueued, StatusInitializing, StatusRunning} {
		if status.Terminal() {
			t.Errorf("expected %s to be non-terminal", status)
		}
	}
	if !StatusInitializing.Active() || !StatusRunning.Active() {
		t.Error("expected initializing and running to be active")
	}
	if StatusQueued.Active() || StatusCompleted.Active() {
		t.Error("expected queued and completed to be inactive")
	}
}
