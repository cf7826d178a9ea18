package reqid

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got != id {
		t.Fatalf("expected %q from context, got %q ok=%v", id, got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected id in empty context")
	}
}

func TestWithID(t *testing.T) {
	ctx, id := WithID(context.Background(), "client-7")
	if id != "client-7" {
		t.Fatalf("expected supplied id, got %q", id)
	}
	if got, _ := FromContext(ctx); got != "client-7" {
		t.Fatalf("context id %q", got)
	}

	ctx, id = WithID(context.Background(), "")
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if got, _ := FromContext(ctx); got != id {
		t.Fatalf("context id %q want %q", got, id)
	}
}

func TestNewContextUnique(t *testing.T) {
	_, a := NewContext(context.Background())
	_, b := NewContext(context.Background())
	if a == b {
		t.Fatalf("ids should differ: %q", a)
	}
}
