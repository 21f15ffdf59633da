package search

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	max := 60 * time.Second

	tests := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"plain seconds", "5", 5 * time.Second, true},
		{"fractional seconds", "2.5", 2500 * time.Millisecond, true},
		{"clamped to max", "120", 60 * time.Second, true},
		{"exactly max", "60", 60 * time.Second, true},
		{"zero", "0", 0, false},
		{"negative", "-3", 0, false},
		{"empty", "", 0, false},
		{"whitespace only", "   ", 0, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.header, max)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	max := 60 * time.Second

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	d, ok := ParseRetryAfter(future, max)
	if !ok {
		t.Fatal("expected a future HTTP-date to parse")
	}
	if d <= 0 || d > 10*time.Second {
		t.Errorf("duration %v outside (0, 10s]", d)
	}

	farFuture := time.Now().Add(5 * time.Minute).UTC().Format(http.TimeFormat)
	d, ok = ParseRetryAfter(farFuture, max)
	if !ok {
		t.Fatal("expected a far-future HTTP-date to parse")
	}
	if d != max {
		t.Errorf("duration %v, want clamp to %v", d, max)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if _, ok := ParseRetryAfter(past, max); ok {
		t.Error("a past HTTP-date should not yield a delay")
	}
}
