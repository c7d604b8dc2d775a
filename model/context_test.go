package model

import (
	"context"
	"testing"
)

func TestRequestContext_roundtrip(t *testing.T) {
	rc := &RequestContext{SessionID: "s-1", CorrelationID: "c-1"}
	ctx := WithRequestContext(context.Background(), rc)

	got := RequestContextFrom(ctx)
	if got != rc {
		t.Fatalf("RequestContextFrom() = %v, want %v", got, rc)
	}
	if MustRequestContext(ctx).SessionID != "s-1" {
		t.Error("MustRequestContext().SessionID mismatch")
	}
}

func TestRequestContextFrom_missing(t *testing.T) {
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom(empty) = %v, want nil", got)
	}
}

func TestMustRequestContext_panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRequestContext() on empty context should panic")
		}
	}()
	MustRequestContext(context.Background())
}
