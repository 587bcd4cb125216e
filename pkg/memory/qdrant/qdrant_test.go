package qdrant

import "testing"

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"text":    "the peach garden",
		"round":   int64(2),
		"seq":     3,
		"score":   0.5,
		"final":   true,
		"unknown": []string{"x"},
	}
	out := fromPayload(toPayload(in))

	if out["text"] != "the peach garden" || out["round"] != int64(2) || out["seq"] != int64(3) {
		t.Fatalf("unexpected payload %v", out)
	}
	if out["score"] != 0.5 || out["final"] != true {
		t.Fatalf("unexpected payload %v", out)
	}
	if out["unknown"] != "[x]" {
		t.Fatalf("unknown types are stringified, got %v", out["unknown"])
	}
}

func TestNewIsLazy(t *testing.T) {
	s, err := New("127.0.0.1:1")
	if err != nil {
		t.Fatalf("New should not dial eagerly: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
