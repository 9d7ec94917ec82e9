package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsBurst(t *testing.T) {
	limiter := NewLimiter(10, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Fatalf("Request %d within burst should be allowed", i)
		}
	}

	if limiter.Allow() {
		t.Error("Request past burst should be denied")
	}
}

func TestLimiterRefills(t *testing.T) {
	limiter := NewLimiter(100, 1)

	if !limiter.Allow() {
		t.Fatal("First request should be allowed")
	}
	if limiter.Allow() {
		t.Fatal("Second immediate request should be denied")
	}

	// 100 tokens/sec refills one token in 10ms
	time.Sleep(20 * time.Millisecond)

	if !limiter.Allow() {
		t.Error("Request after refill should be allowed")
	}
}

func TestClientLimitersReturnsSameInstance(t *testing.T) {
	cl := NewClientLimiters(10, 5)
	defer cl.Stop()

	a := cl.Get("client-a")
	if a == nil {
		t.Fatal("Limiter should not be nil")
	}
	if cl.Get("client-a") != a {
		t.Error("Same key should return same limiter")
	}
	if cl.Get("client-b") == a {
		t.Error("Different keys should get different limiters")
	}

	cl.Remove("client-a")
	if cl.Get("client-a") == a {
		t.Error("Removed key should get a fresh limiter")
	}
}
