package auth

import (
	"sync"
	"time"
)

// maxFailuresPerWindow bounds how many signature failures one IP may
// accumulate before NewSignatureMiddleware starts reporting rate-limited
// instead of the underlying auth failure, per §5's documented single-process
// scale boundary.
const (
	maxFailuresPerWindow = 20
	failureWindow        = time.Minute
)

// InMemoryFailedAuthLimiter counts signature failures per client IP within
// a fixed window that restarts on the first failure after it has elapsed,
// one counter per IP, mirroring
// infra.InMemoryLimiterStore's single-process per-actor bucket shape.
type InMemoryFailedAuthLimiter struct {
	mu      sync.Mutex
	buckets map[string]*failureBucket
	clock   func() time.Time
}

type failureBucket struct {
	count      int
	windowFrom time.Time
}

func NewInMemoryFailedAuthLimiter() *InMemoryFailedAuthLimiter {
	return &InMemoryFailedAuthLimiter{
		buckets: make(map[string]*failureBucket),
		clock:   time.Now,
	}
}

// Allow records one failure for ip and reports whether it is still under
// the per-window cap.
func (l *InMemoryFailedAuthLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	b, ok := l.buckets[ip]
	if !ok || now.Sub(b.windowFrom) > failureWindow {
		b = &failureBucket{windowFrom: now}
		l.buckets[ip] = b
	}
	b.count++
	return b.count <= maxFailuresPerWindow
}
