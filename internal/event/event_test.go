package event

import (
	"context"
	"log/slog"
	"testing"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

func TestNewPublisherWithoutURL(t *testing.T) {
	p := NewPublisher("", slog.Default())
	if _, ok := p.(noop); !ok {
		t.Fatalf("expected noop publisher, got %T", p)
	}
	if err := p.PublishContentChanged(context.Background(), "events", Created, nil); err != nil {
		t.Fatalf("noop publish: %v", err)
	}
}

func TestSubjects(t *testing.T) {
	if got := ContentSubject("ministries", Deleted); got != "sanctuary.content.ministries.deleted" {
		t.Fatalf("subject = %s", got)
	}
}

func TestRecorderCarriesCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "cid-1")
	var r Recorder
	_ = r.PublishContentChanged(ctx, "posts", Updated, model.Post{Title: "x"})
	_ = r.PublishLiveStreamUpdated(ctx, model.LiveStream{ID: 1})

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("recorded %d events", len(events))
	}
	if events[0].Type != "sanctuary.content.posts.updated" || events[1].Type != LiveStreamSubject {
		t.Fatalf("types = %v", r.Types())
	}
	for _, e := range events {
		if e.CorrelationID != "cid-1" {
			t.Errorf("correlation id = %q", e.CorrelationID)
		}
	}
}

func TestCorrelationIDGenerated(t *testing.T) {
	if CorrelationID(context.Background()) == "" {
		t.Fatal("expected generated id")
	}
}
