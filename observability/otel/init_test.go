package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,bad, =skip,x=1=2")
	if len(got) != 2 {
		t.Fatalf("unexpected headers %v", got)
	}
	if got["api-key"] != "abc" || got["x"] != "1=2" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitValidates(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
	if _, err := Init(context.Background(), Config{ServiceName: "oracled", SampleRatio: 2}); err == nil {
		t.Fatalf("expected error for sample ratio")
	}
}

func TestInitWithoutExportersShutsDownCleanly(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "oracled"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
