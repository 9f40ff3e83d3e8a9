package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func headersFor(bucket, limit, remaining, resetAfter string) http.Header {
	h := http.Header{}
	if bucket != "" {
		h.Set("X-RateLimit-Bucket", bucket)
	}
	h.Set("X-RateLimit-Limit", limit)
	h.Set("X-RateLimit-Remaining", remaining)
	h.Set("X-RateLimit-Reset-After", resetAfter)
	return h
}

func TestFirstAcquireOnUnknownRouteIsImmediate(t *testing.T) {
	l := NewBucketRateLimiter()
	session, err := l.Acquire(context.Background(), "GET /channels/:id/messages", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if session == nil {
		t.Fatal("expected a session")
	}
}

func TestUnknownRouteSerializesSecondAcquire(t *testing.T) {
	l := NewBucketRateLimiter()
	route := RouteKey("GET /channels/:id/messages")

	_, err := l.Acquire(context.Background(), route, 0)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, route, 0); err == nil {
		t.Fatal("expected second acquire on an undiscovered bucket to block")
	}
}

func TestUpdateDiscoversBucketAndAdmitsMore(t *testing.T) {
	l := NewBucketRateLimiter()
	route := RouteKey("GET /channels/:id/messages")

	session, err := l.Acquire(context.Background(), route, 0)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	l.Update(session, headersFor("abc", "5", "4", "1.000"))

	metadata, remaining, _ := l.Snapshot(route)
	if metadata.ID != "abc" || metadata.Limit != 5 {
		t.Fatalf("expected discovered bucket abc/5, got %+v", metadata)
	}
	if remaining != 4 {
		t.Fatalf("expected remaining 4, got %v", remaining)
	}

	for i := 0; i < 4; i++ {
		if _, err := l.Acquire(context.Background(), route, 0); err != nil {
			t.Fatalf("acquire %d after discovery: %v", i, err)
		}
	}
}

func TestMergingTwoUnknownRouteKeysIntoSameBucket(t *testing.T) {
	l := NewBucketRateLimiter()
	routeA := RouteKey("GET /channels/1/messages")
	routeB := RouteKey("GET /channels/2/messages")

	sessionA, err := l.Acquire(context.Background(), routeA, 0)
	if err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	sessionB, err := l.Acquire(context.Background(), routeB, 0)
	if err != nil {
		t.Fatalf("acquire B: %v", err)
	}

	l.Update(sessionA, headersFor("shared-bucket", "3", "2", "1.000"))
	l.Update(sessionB, headersFor("shared-bucket", "3", "1", "1.000"))

	metaA, _, _ := l.Snapshot(routeA)
	metaB, _, _ := l.Snapshot(routeB)
	if metaA.ID != metaB.ID {
		t.Fatalf("expected both route keys to resolve to the same bucket id, got %q and %q", metaA.ID, metaB.ID)
	}
}

func TestPriorityPreemptsFIFOWhenBothPending(t *testing.T) {
	l := NewBucketRateLimiter()
	route := RouteKey("POST /channels/:id/messages")

	// Deplete the bucket to zero via discovery, leaving it closed until reset.
	first, err := l.Acquire(context.Background(), route, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Update(first, headersFor("bkt", "1", "0", "0.050"))

	order := make(chan int, 2)
	go func() {
		_, _ = l.Acquire(context.Background(), route, 5)
		order <- 5
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		_, _ = l.Acquire(context.Background(), route, 1)
		order <- 1
	}()

	time.Sleep(5 * time.Millisecond) // ensure both are enqueued before reset fires

	firstAdmitted := <-order
	if firstAdmitted != 1 {
		t.Fatalf("expected priority 1 to be admitted before priority 5, got %d first", firstAdmitted)
	}
	<-order
}

func TestCancelledAcquireDoesNotConsumeToken(t *testing.T) {
	l := NewBucketRateLimiter()
	route := RouteKey("GET /guilds/:id")

	first, err := l.Acquire(context.Background(), route, 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Update(first, headersFor("bkt", "1", "0", "10"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, route, 0); err == nil {
		t.Fatal("expected cancellation while queued")
	}

	_, remaining, _ := l.Snapshot(route)
	if remaining != 0 {
		t.Fatalf("expected cancelled wait to leave remaining untouched, got %v", remaining)
	}
}
