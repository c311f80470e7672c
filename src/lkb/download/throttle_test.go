package download

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func TestRateLimiter_UnlimitedIsNil(t *testing.T) {
	rl := newRateLimiter(0)
	if rl != nil {
		t.Fatal("expected nil limiter for unlimited rate")
	}
	if err := rl.Wait(context.Background(), 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRateLimiter_ContextCancellation(t *testing.T) {
	rl := newRateLimiter(100)
	_ = rl.Wait(context.Background(), int(rl.burst))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx, 1000); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestThrottledReader_PassThroughWithoutLimiter(t *testing.T) {
	r := bytes.NewReader(bytes.Repeat([]byte("x"), 1024))
	if got := newThrottledReader(context.Background(), r, nil); got != io.Reader(r) {
		t.Error("expected the original reader when unlimited")
	}
}

func TestThrottledReader_WithinBurst(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 10*1024)
	tr := newThrottledReader(context.Background(), bytes.NewReader(data), newRateLimiter(50*1024))

	start := time.Now()
	out, err := io.ReadAll(tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(data) {
		t.Errorf("expected %d bytes, got %d", len(data), len(out))
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("read within burst took %v", elapsed)
	}
}
