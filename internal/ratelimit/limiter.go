// Package ratelimit provides per-address request limiting for the
// WebSocket upgrade endpoint, adapted from rexlx-squall's
// cmd/server/rate.go gRPC interceptor: the same visitor-map-plus-TTL-
// cleanup shape, applied to an http.HandlerFunc instead of a gRPC
// interceptor.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter rate-limits connection attempts per remote IP.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	r        rate.Limit
	b        int
}

// New builds a Limiter allowing rps requests/sec per IP with the given
// burst, and starts its background cleanup goroutine.
func New(rps int, burst int) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		r:        rate.Limit(rps),
		b:        burst,
	}
	go l.cleanupVisitors()
	return l
}

func (l *Limiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.r, l.b)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (l *Limiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for ip, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Allow reports whether the request's remote address may proceed.
func (l *Limiter) Allow(r *http.Request) bool {
	return l.getLimiter(remoteIP(r)).Allow()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
