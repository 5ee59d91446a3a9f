package jobs

import "testing"

// TestValidTransitionEdges checks every allowed edge of the state machine.
func TestValidTransitionEdges(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusDownloading},
		{StatusPending, StatusCancelled},
		{StatusDownloading, StatusProcessing},
		{StatusDownloading, StatusFailed},
		{StatusDownloading, StatusCancelled},
		{StatusDownloading, StatusPending},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusCancelled},
		{StatusProcessing, StatusPending},
		{StatusFailed, StatusPending},
	}
	for _, edge := range allowed {
		if !ValidTransition(edge.from, edge.to) {
			t.Errorf("%s -> %s should be valid", edge.from, edge.to)
		}
	}
}

// TestInvalidTransitions checks that terminal states stay terminal and
// that no skipping edges exist.
func TestInvalidTransitions(t *testing.T) {
	invalid := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCompleted},
		{StatusDownloading, StatusCompleted},
		{StatusCompleted, StatusDownloading},
		{StatusCompleted, StatusPending},
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusDownloading},
		{StatusFailed, StatusDownloading},
		{StatusFailed, StatusCompleted},
	}
	for _, edge := range invalid {
		if ValidTransition(edge.from, edge.to) {
			t.Errorf("%s -> %s should be invalid", edge.from, edge.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusDownloading, StatusProcessing} {
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"txt", "srt", "vtt"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("ParseFormat(pdf) should fail")
	}
}
