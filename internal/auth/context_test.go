package auth

import (
	"context"
	"testing"
)

func TestWithContextFromContext(t *testing.T) {
	auth := &Context{Authenticated: true, RateLimitKey: "key-1"}
	ctx := WithContext(context.Background(), auth)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected non-nil Context")
	}
	if got.RateLimitKey != "key-1" {
		t.Errorf("RateLimitKey = %q, want %q", got.RateLimitKey, "key-1")
	}
}

func TestFromContextMissing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("expected nil Context, got %+v", got)
	}
}
