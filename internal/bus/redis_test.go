package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedis(context.Background(), client, "test", Options{})
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func waitNumSub(t *testing.T, mr *miniredis.Miniredis, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		if got := mr.PubSubNumSub(channel)[channel]; got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscribers on %s = %d, want %d", channel, mr.PubSubNumSub(channel)[channel], want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRedisBus_RoundTrip(t *testing.T) {
	b, mr := newTestRedisBus(t)
	ctx := context.Background()

	c := newCollector()
	if _, err := b.Subscribe(ctx, "user:7", c.handle); err != nil {
		t.Fatal(err)
	}
	waitNumSub(t, mr, "test:user:7", 1)

	for _, p := range []string{"one", "two", "three"} {
		if err := b.Publish(ctx, "user:7", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	got := c.waitFor(t, 3)
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Errorf("payload %d = %q, want %q", i, got[i], want)
		}
	}
}

func TestRedisBus_UnsubscribeLastReleasesChannel(t *testing.T) {
	b, mr := newTestRedisBus(t)
	ctx := context.Background()

	first, err := b.Subscribe(ctx, "device:3", newCollector().handle)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Subscribe(ctx, "device:3", newCollector().handle)
	if err != nil {
		t.Fatal(err)
	}
	waitNumSub(t, mr, "test:device:3", 1)

	first.Unsubscribe()
	waitNumSub(t, mr, "test:device:3", 1)

	second.Unsubscribe()
	waitNumSub(t, mr, "test:device:3", 0)
}

func TestRedisBus_TopicsAreIsolated(t *testing.T) {
	b, mr := newTestRedisBus(t)
	ctx := context.Background()

	mine, other := newCollector(), newCollector()
	if _, err := b.Subscribe(ctx, "device:1", mine.handle); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe(ctx, "device:2", other.handle); err != nil {
		t.Fatal(err)
	}
	waitNumSub(t, mr, "test:device:1", 1)
	waitNumSub(t, mr, "test:device:2", 1)

	if err := b.Publish(ctx, "device:1", []byte("cmd")); err != nil {
		t.Fatal(err)
	}
	mine.waitFor(t, 1)
	other.expectNone(t)
}
