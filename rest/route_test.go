package rest

import "testing"

func TestPathSubstitution(t *testing.T) {
	route := NewRoute("GET", "/channels/{channel_id}/messages/{message_id}", map[string]string{
		"channel_id": "123",
		"message_id": "456",
	})
	if got, want := route.Path(), "/channels/123/messages/456"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBucketKeySharedAcrossNonMajorParams(t *testing.T) {
	a := NewRoute("GET", "/channels/{channel_id}/messages/{message_id}", map[string]string{
		"channel_id": "123",
		"message_id": "456",
	})
	b := NewRoute("GET", "/channels/{channel_id}/messages/{message_id}", map[string]string{
		"channel_id": "123",
		"message_id": "999",
	})
	if a.BucketKey() != b.BucketKey() {
		t.Fatalf("expected shared bucket key for differing message_id, got %q and %q", a.BucketKey(), b.BucketKey())
	}
}

func TestBucketKeyDiffersAcrossMajorParams(t *testing.T) {
	a := NewRoute("GET", "/channels/{channel_id}/messages", map[string]string{"channel_id": "123"})
	b := NewRoute("GET", "/channels/{channel_id}/messages", map[string]string{"channel_id": "456"})
	if a.BucketKey() == b.BucketKey() {
		t.Fatalf("expected distinct bucket keys for differing channel_id, got equal %q", a.BucketKey())
	}
}
