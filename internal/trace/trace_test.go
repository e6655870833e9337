package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewContextHasIDs(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("TraceID length = %d, want 32 hex chars", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("SpanID length = %d, want 16 hex chars", len(tc.SpanID))
	}
	if tc.ParentSpanID != "" {
		t.Error("new context should have no parent")
	}
}

func TestNewChildInheritsTrace(t *testing.T) {
	parent := New()
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should keep parent trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should get fresh span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child parent span should be parent's span")
	}
}

func TestContextRoundTrip(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("trace context missing")
	}
	if got != tc {
		t.Errorf("got %+v, want %+v", got, tc)
	}
}

func TestEnsureContextCreates(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if tc.TraceID == "" {
		t.Error("should create trace ID")
	}
	_, tc2 := EnsureContext(ctx)
	if tc2 != tc {
		t.Error("second call should reuse existing context")
	}
}

func TestSpanDuration(t *testing.T) {
	_, span := StartSpan(context.Background(), "verify")
	if span.Duration() != 0 {
		t.Error("unfinished span has zero duration")
	}
	span.End()
	if span.Duration() <= 0 {
		t.Error("finished span should have positive duration")
	}
}

func TestMiddlewarePropagatesHeader(t *testing.T) {
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceIDKey, "abc123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID != "abc123" {
		t.Errorf("TraceID = %q, want propagated header", got.TraceID)
	}
}
