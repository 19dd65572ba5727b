package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, mr *miniredis.Miniredis) *Redis {
	t.Helper()
	r := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2}))
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedisExchangeInOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	alice, bob := newTestRedis(t, mr), newTestRedis(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aliceIn, err := alice.Subscribe(ctx, "room")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	bobIn, err := bob.Subscribe(ctx, "room")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Subscribe returns only once redis confirmed the subscription.
	if n := mr.PubSubNumSub(ChannelName("room"))[ChannelName("room")]; n != 2 {
		t.Fatalf("subscribers on %s = %d, want 2", ChannelName("room"), n)
	}

	const n = 50
	for i := 0; i < n; i++ {
		if err := alice.Publish(ctx, "room", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		want := fmt.Sprintf("m%d", i)
		if got := recv(t, bobIn); got != want {
			t.Fatalf("bob message %d = %q, want %q", i, got, want)
		}
		// The publisher hears its own messages too.
		if got := recv(t, aliceIn); got != want {
			t.Fatalf("alice message %d = %q, want %q", i, got, want)
		}
	}
}

func TestRedisUsesChannelName(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newTestRedis(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, err := r.Subscribe(ctx, "room")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	mr.Publish("room", "bare")
	mr.Publish("meshcall:room", "prefixed")
	if got := recv(t, in); got != "prefixed" {
		t.Fatalf("got %q, want %q", got, "prefixed")
	}
}

func TestRedisSubscriptionEndsWithContext(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newTestRedis(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	in, err := r.Subscribe(ctx, "room")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-in:
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestNewRedisPingFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	r, err := NewRedis(context.Background(), RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	r.Close()

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedis(ctx, RedisOptions{Addr: addr}); err == nil {
		t.Fatal("NewRedis succeeded against a stopped server")
	}
}
