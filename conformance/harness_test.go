package conformance

import (
	"strings"
	"testing"
)

// TestConformance runs the full conformance suite against the in-memory
// store.
func TestConformance(t *testing.T) {
	harness, err := NewHarness(Config{})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	harness.RunConformanceTests(t)

	var subjects []string
	for _, e := range harness.Events() {
		subjects = append(subjects, e.Type)
	}
	joined := strings.Join(subjects, " ")
	for _, want := range []string{
		"sanctuary.content.events.created",
		"sanctuary.content.ministries.updated",
		"sanctuary.content.news.deleted",
		"sanctuary.livestream.updated",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("event %s not published; got %v", want, subjects)
		}
	}
}
