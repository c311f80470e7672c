package download

import (
	"context"
	"io"
	"sync"
	"time"
)

// maxChunk caps a single throttled read
const maxChunk = 32 * 1024

// rateLimiter is a token bucket measured in bytes
type rateLimiter struct {
	mu          sync.Mutex
	bytesPerSec int64
	tokens      int64
	burst       int64
	lastRefill  time.Time
}

// newRateLimiter returns nil for an unlimited rate
func newRateLimiter(bytesPerSec int64) *rateLimiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := bytesPerSec
	if burst < 64*1024 {
		burst = 64 * 1024
	}
	return &rateLimiter{
		bytesPerSec: bytesPerSec,
		tokens:      burst,
		burst:       burst,
		lastRefill:  time.Now(),
	}
}

// Wait blocks until n bytes may pass or ctx is done
func (rl *rateLimiter) Wait(ctx context.Context, n int) error {
	if rl == nil {
		return nil
	}

	for {
		rl.mu.Lock()
		now := time.Now()
		if refill := int64(now.Sub(rl.lastRefill).Seconds() * float64(rl.bytesPerSec)); refill > 0 {
			rl.tokens += refill
			if rl.tokens > rl.burst {
				rl.tokens = rl.burst
			}
			rl.lastRefill = now
		}

		if rl.tokens >= int64(n) {
			rl.tokens -= int64(n)
			rl.mu.Unlock()
			return nil
		}

		deficit := int64(n) - rl.tokens
		wait := time.Duration(float64(deficit) / float64(rl.bytesPerSec) * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// throttledReader paces reads through a rateLimiter
type throttledReader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *rateLimiter
}

func newThrottledReader(ctx context.Context, r io.Reader, limiter *rateLimiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, reader: r, limiter: limiter}
}

func (tr *throttledReader) Read(p []byte) (int, error) {
	if len(p) > maxChunk {
		p = p[:maxChunk]
	}
	n, err := tr.reader.Read(p)
	if n > 0 {
		if waitErr := tr.limiter.Wait(tr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
