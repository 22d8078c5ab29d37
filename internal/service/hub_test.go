package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"kusheet/internal/model"
)

type recordingSub struct {
	mu   sync.Mutex
	got  []model.Message
	fail error
}

func (s *recordingSub) Deliver(msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.fail
}

func (s *recordingSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestHubBroadcastScopedToGroup(t *testing.T) {
	hub := NewHub()
	a, b, other := &recordingSub{}, &recordingSub{}, &recordingSub{}
	hub.Subscribe("g1", a)
	hub.Subscribe("g1", a) // 幂等
	hub.Subscribe("g1", b)
	hub.Subscribe("g2", other)

	if err := hub.Broadcast(context.Background(), model.Message{ID: "m1", GroupID: "g1"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if a.count() != 1 || b.count() != 1 || other.count() != 0 {
		t.Fatalf("unexpected deliveries a=%d b=%d other=%d", a.count(), b.count(), other.count())
	}
	if hub.Count("g1") != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.Count("g1"))
	}
}

func TestHubBestEffortAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	broken := &recordingSub{fail: errors.New("write failed")}
	ok := &recordingSub{}
	var nilSub *recordingSub
	hub.Subscribe("g1", broken)
	hub.Subscribe("g1", ok)
	hub.Subscribe("g1", nilSub)

	err := hub.Broadcast(context.Background(), model.Message{ID: "m1", GroupID: "g1"})
	if err == nil {
		t.Fatalf("expected first delivery error")
	}
	if ok.count() != 1 {
		t.Fatalf("healthy subscriber should still receive the message")
	}

	hub.UnsubscribeAll(broken)
	hub.Unsubscribe("g1", nilSub)
	hub.Unsubscribe("g1", ok)
	if hub.Count("g1") != 0 {
		t.Fatalf("expected no subscribers left, got %d", hub.Count("g1"))
	}
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(multiple bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(multiple, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestConsumerHandleDeliversToLocalHub(t *testing.T) {
	hub := NewHub()
	sub := &recordingSub{}
	hub.Subscribe("g1", sub)
	c := NewMessageConsumer(nil, "q", hub)

	body, _ := json.Marshal(model.Message{ID: "m1", GroupID: "g1", User: model.User{ID: "u1"}, Content: "hi"})
	ack := &fakeAck{}
	c.handle(context.Background(), body, ack)
	if !ack.acked || sub.count() != 1 {
		t.Fatalf("expected ack and delivery, acked=%v delivered=%d", ack.acked, sub.count())
	}

	bad := &fakeAck{}
	c.handle(context.Background(), []byte("{not json"), bad)
	if !bad.nacked || bad.requeued {
		t.Fatalf("bad payload should be dropped without requeue")
	}

	incomplete := &fakeAck{}
	body, _ = json.Marshal(model.Message{GroupID: "g1"})
	c.handle(context.Background(), body, incomplete)
	if !incomplete.nacked || sub.count() != 1 {
		t.Fatalf("incomplete message should be dropped")
	}
}

type flakyCache struct {
	mu          sync.Mutex
	failures    int
	calls       int
	done        chan struct{}
	invalidated chan string
}

func (c *flakyCache) Append(ctx context.Context, msg model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return errors.New("temporary")
	}
	close(c.done)
	return nil
}

func (c *flakyCache) Fill(ctx context.Context, groupID string, msgs []model.Message) error {
	return nil
}

func (c *flakyCache) Recent(ctx context.Context, groupID string, limit int) ([]model.Message, error) {
	return nil, nil
}

func (c *flakyCache) Invalidate(ctx context.Context, groupID string) error {
	c.invalidated <- groupID
	return nil
}

func TestAsyncCacheRetryerRetriesUntilSuccess(t *testing.T) {
	cache := &flakyCache{failures: 2, done: make(chan struct{})}
	r := NewAsyncCacheRetryer(cache, CacheRetryOptions{BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	defer r.Stop()

	r.Enqueue(model.Message{ID: "m1", GroupID: "g1"})
	select {
	case <-cache.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("retryer did not succeed in time")
	}
	cache.mu.Lock()
	calls := cache.calls
	cache.mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestAsyncCacheRetryerInvalidatesOnGiveUp(t *testing.T) {
	cache := &flakyCache{failures: 100, done: make(chan struct{}), invalidated: make(chan string, 1)}
	r := NewAsyncCacheRetryer(cache, CacheRetryOptions{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	defer r.Stop()

	r.Enqueue(model.Message{ID: "m1", GroupID: "g1"})
	select {
	case group := <-cache.invalidated:
		if group != "g1" {
			t.Fatalf("expected g1 invalidated, got %s", group)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("retryer did not invalidate after giving up")
	}
	cache.mu.Lock()
	calls := cache.calls
	cache.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestAsyncCacheRetryerStopIsIdempotent(t *testing.T) {
	r := NewAsyncCacheRetryer(&stubCache{}, CacheRetryOptions{})
	r.Stop()
	r.Stop()
}
