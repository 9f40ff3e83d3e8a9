// Package ratelimit implements the HTTP admission primitives: a
// per-route-key BucketRateLimiter that tracks Discord's server-assigned
// rate-limit buckets, and a process-wide GlobalRateLimiter layered in
// front of it.
//
// A Bucket's identity is discovered lazily: the first response for a
// route key reveals the server-side bucket id, and from then on every
// route key that maps to the same id is served against one shared
// Bucket. Until that first response lands, the route key is served
// strictly serially, one request at a time, so that a cold-start burst
// never mints two different bucket identities for what turns out to be
// the same underlying limit.
package ratelimit

import (
	"container/heap"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RouteKey is the client-side identity of a rate limit before the
// server-assigned bucket id is known: method, path template, and the
// substituted major parameters.
type RouteKey string

// BucketMetadata is the server-assigned identity of a rate-limit bucket,
// shared by every route key that resolves to it.
type BucketMetadata struct {
	ID        string
	Limit     int
	Unlimited bool
}

// RequestSession is a handle returned by Acquire, held by the caller for
// the lifetime of one HTTP request and passed back into Update once a
// response (or failure) is known.
type RequestSession struct {
	routeKey RouteKey
	priority int
	seq      uint64
	ctx      context.Context
	admitted chan error
	bucket   *Bucket
	index    int // heap bookkeeping, -1 when not queued
}

// Bucket is the live token-leaking admission object for one
// BucketMetadata, or, before discovery, the strict-serialization
// placeholder for a single route key.
type Bucket struct {
	metadata BucketMetadata

	mu        sync.Mutex
	remaining float64
	resetAt   time.Time
	queue     sessionHeap
	wakeTimer *time.Timer
	nextSeq   uint64
}

func newPlaceholderBucket() *Bucket {
	return &Bucket{
		metadata:  BucketMetadata{Limit: 1},
		remaining: 1,
	}
}

// sessionHeap orders pending sessions by (priority, fifo sequence); lower
// priority values are admitted first, ties break FIFO. Modeled as a plain
// container/heap slice type the way the pack's own priority queues do.
type sessionHeap []*RequestSession

func (h sessionHeap) Len() int { return len(h) }

func (h sessionHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h sessionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *sessionHeap) Push(x any) {
	s := x.(*RequestSession)
	s.index = len(*h)
	*h = append(*h, s)
}

func (h *sessionHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*h = old[:n-1]
	return s
}

// BucketRateLimiter is the per-authentication-token container mapping
// route keys to buckets and bucket ids to their shared metadata. It is
// owned by one HTTPEngine instance; the library never keeps a package
// singleton, so multiple tokens get independent state for free.
type BucketRateLimiter struct {
	mu         sync.Mutex
	routeIndex map[RouteKey]*Bucket
	byBucketID map[string]*Bucket
}

// NewBucketRateLimiter creates an empty limiter for one rate_limit_key.
func NewBucketRateLimiter() *BucketRateLimiter {
	return &BucketRateLimiter{
		routeIndex: make(map[RouteKey]*Bucket),
		byBucketID: make(map[string]*Bucket),
	}
}

func (l *BucketRateLimiter) bucketFor(routeKey RouteKey) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.routeIndex[routeKey]
	if !ok {
		b = newPlaceholderBucket()
		l.routeIndex[routeKey] = b
	}
	return b
}

// Acquire resolves routeKey to its Bucket (an Unknown placeholder if this
// is the first time it's seen) and suspends until a slot opens at this
// session's place in the priority queue, or ctx is done first.
func (l *BucketRateLimiter) Acquire(ctx context.Context, routeKey RouteKey, priority int) (*RequestSession, error) {
	bucket := l.bucketFor(routeKey)

	bucket.mu.Lock()
	bucket.nextSeq++
	session := &RequestSession{
		routeKey: routeKey,
		priority: priority,
		seq:      bucket.nextSeq,
		ctx:      ctx,
		admitted: make(chan error, 1),
		bucket:   bucket,
		index:    -1,
	}
	heap.Push(&bucket.queue, session)
	bucket.tryAdmitLocked()
	bucket.mu.Unlock()

	select {
	case err := <-session.admitted:
		if err != nil {
			return nil, err
		}
		return session, nil
	case <-ctx.Done():
		bucket.cancel(session)
		return nil, ctx.Err()
	}
}

// tryAdmitLocked admits the head of the queue if it is eligible, lazily
// treating the bucket as refilled once wall clock has passed resetAt
// without waiting for the next response to confirm it, the way nextcore's
// bucket tracks local rate-limit state between responses.
func (b *Bucket) tryAdmitLocked() {
	if !b.resetAt.IsZero() && !time.Now().Before(b.resetAt) {
		b.remaining = float64(b.metadata.Limit)
		b.resetAt = time.Time{}
	}

	for b.queue.Len() > 0 {
		head := b.queue[0]
		if head.ctx.Err() != nil {
			heap.Pop(&b.queue)
			continue
		}
		if b.metadata.Unlimited {
			heap.Pop(&b.queue)
			head.admitted <- nil
			continue
		}
		if b.remaining < 1 {
			b.scheduleWake()
			return
		}
		heap.Pop(&b.queue)
		b.remaining--
		head.admitted <- nil
	}
}

func (b *Bucket) scheduleWake() {
	if b.resetAt.IsZero() {
		return
	}
	if b.wakeTimer != nil {
		b.wakeTimer.Stop()
	}
	delay := time.Until(b.resetAt)
	if delay < 0 {
		delay = 0
	}
	b.wakeTimer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		b.tryAdmitLocked()
		b.mu.Unlock()
	})
}

func (b *Bucket) cancel(session *RequestSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if session.index >= 0 {
		heap.Remove(&b.queue, session.index)
	}
}

// headerRateLimitInfo is the set of fields Discord reports per response.
type headerRateLimitInfo struct {
	bucketID  string
	limit     int
	remaining float64
	resetAt   time.Time
	unlimited bool
}

func parseRateLimitHeaders(h http.Header) headerRateLimitInfo {
	bucketID := h.Get("X-RateLimit-Bucket")
	if bucketID == "" {
		return headerRateLimitInfo{unlimited: true}
	}

	limit, _ := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.ParseFloat(h.Get("X-RateLimit-Remaining"), 64)
	resetAfter, _ := strconv.ParseFloat(h.Get("X-RateLimit-Reset-After"), 64)

	return headerRateLimitInfo{
		bucketID:  bucketID,
		limit:     limit,
		remaining: remaining,
		resetAt:   time.Now().Add(time.Duration(resetAfter * float64(time.Second))),
	}
}

// Update applies response headers to the bucket the session was admitted
// from, discovering and/or merging bucket identity as needed, then wakes
// the next admissible waiter. Every admitted session must be passed back
// exactly once, either here or to Release, whether the request succeeded
// or failed.
func (l *BucketRateLimiter) Update(session *RequestSession, headers http.Header) {
	info := parseRateLimitHeaders(headers)
	bucket := l.resolveLocked(session.routeKey, session.bucket, info)

	bucket.mu.Lock()
	bucket.metadata.Unlimited = info.unlimited
	if !info.unlimited {
		bucket.metadata.Limit = info.limit
		bucket.remaining = info.remaining
		bucket.resetAt = info.resetAt
	}
	bucket.tryAdmitLocked()
	bucket.mu.Unlock()
}

// Release re-opens admission for the bucket the session was admitted from
// without applying any rate-limit metadata, refunding the token the
// session consumed at admission since no response information is being
// recorded for it. Use this instead of Update when the response carries
// limit information that does not describe this bucket, e.g. a
// shared-scope 429 against some other resource, or when the request never
// produced a response at all.
func (l *BucketRateLimiter) Release(session *RequestSession) {
	bucket := session.bucket
	bucket.mu.Lock()
	if !bucket.metadata.Unlimited {
		bucket.remaining++
	}
	bucket.tryAdmitLocked()
	bucket.mu.Unlock()
}

// resolveLocked installs newly discovered bucket identity, merging with
// an already-canonical bucket sharing the same id if one exists, and
// returns the bucket subsequent state updates should land on.
func (l *BucketRateLimiter) resolveLocked(routeKey RouteKey, current *Bucket, info headerRateLimitInfo) *Bucket {
	if info.unlimited || info.bucketID == "" {
		return current
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if current.metadata.ID == info.bucketID {
		return current
	}

	canonical, exists := l.byBucketID[info.bucketID]
	if !exists {
		current.metadata.ID = info.bucketID
		l.byBucketID[info.bucketID] = current
		return current
	}

	if canonical == current {
		return current
	}

	mergeBuckets(current, canonical)
	l.routeIndex[routeKey] = canonical
	return canonical
}

// mergeBuckets re-parents every pending session on from onto into,
// preserving priority order, and drains from's queue.
func mergeBuckets(from, into *Bucket) {
	from.mu.Lock()
	pending := make([]*RequestSession, from.queue.Len())
	copy(pending, from.queue)
	from.queue = from.queue[:0]
	from.mu.Unlock()

	into.mu.Lock()
	for _, session := range pending {
		session.bucket = into
		heap.Push(&into.queue, session)
	}
	into.tryAdmitLocked()
	into.mu.Unlock()
}

// Snapshot reports the current metadata and token state for a route key,
// primarily for tests and diagnostics.
func (l *BucketRateLimiter) Snapshot(routeKey RouteKey) (BucketMetadata, float64, time.Time) {
	bucket := l.bucketFor(routeKey)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	return bucket.metadata, bucket.remaining, bucket.resetAt
}

// RateLimitScope is the X-RateLimit-Scope header value on a 429.
type RateLimitScope string

const (
	ScopeUser   RateLimitScope = "user"
	ScopeShared RateLimitScope = "shared"
	ScopeGlobal RateLimitScope = "global"
)

// CloudflareBanError signals a Cloudflare 1015 block; unrecoverable from
// the rate limiter's point of view.
type CloudflareBanError struct {
	RouteKey RouteKey
}

func (e *CloudflareBanError) Error() string {
	return fmt.Sprintf("ratelimit: cloudflare banned route %s (1015)", e.RouteKey)
}
