package mcp

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ipRateLimiter applies a token bucket per client IP. Loopback clients are
// exempt so local MCP clients never get throttled.
type ipRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64
	burst   int
}

type tokenBucket struct {
	tokens  float64
	updated time.Time
}

func newIPRateLimiter(rate float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
	}
}

// allow reports whether the client may proceed. A zero rate or burst
// disables limiting entirely.
func (l *ipRateLimiter) allow(ip string) bool {
	if l == nil || l.rate <= 0 || l.burst <= 0 {
		return true
	}
	clientIP := canonicalIP(ip)
	if clientIP == "" || isLoopback(clientIP) {
		return true
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[clientIP]
	if !ok {
		l.buckets[clientIP] = &tokenBucket{tokens: float64(l.burst - 1), updated: now}
		return true
	}

	bucket.tokens += now.Sub(bucket.updated).Seconds() * l.rate
	if max := float64(l.burst); bucket.tokens > max {
		bucket.tokens = max
	}
	bucket.updated = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// cleanup drops buckets idle longer than maxAge.
func (l *ipRateLimiter) cleanup(maxAge time.Duration) {
	if l == nil || maxAge <= 0 {
		return
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, bucket := range l.buckets {
		if bucket == nil || now.Sub(bucket.updated) > maxAge {
			delete(l.buckets, ip)
		}
	}
}

// realIP prefers the first X-Forwarded-For hop over the socket address.
func realIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// canonicalIP strips ports, brackets and IPv6 zones so equal addresses
// share one bucket.
func canonicalIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	if strings.EqualFold(ip, "localhost") {
		return "localhost"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ip = strings.Trim(ip, "[]")
	if zone := strings.Index(ip, "%"); zone >= 0 {
		ip = ip[:zone]
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return strings.ToLower(ip)
}

func isLoopback(ip string) bool {
	if strings.EqualFold(ip, "localhost") {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
