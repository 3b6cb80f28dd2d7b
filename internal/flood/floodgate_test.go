package flood

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mutex sync.Mutex
	t     time.Time
}

func (c *fakeClock) now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.t = c.t.Add(d)
}

func newTestFloodgate(t *testing.T, limit int) (*Floodgate, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	fg := New(limit)
	fg.now = clock.now
	t.Cleanup(fg.Stop)
	return fg, clock
}

func TestFloodgate_Allow_AllowsNormalUsage(t *testing.T) {
	fg, _ := newTestFloodgate(t, 3)

	for i := 0; i < 3; i++ {
		if !fg.Allow("client1", "commands") {
			t.Errorf("Command %d should be allowed", i+1)
		}
	}
	if fg.Allow("client1", "commands") {
		t.Error("4th command should be blocked")
	}
}

func TestFloodgate_Allow_SlidingWindow(t *testing.T) {
	fg, clock := newTestFloodgate(t, 2)

	fg.Allow("client1", "commands")
	clock.advance(30 * time.Second)
	fg.Allow("client1", "commands")

	if fg.Allow("client1", "commands") {
		t.Error("Third command within the window should be blocked")
	}
	if wait := fg.RetryAfter("client1", "commands"); wait != 30*time.Second {
		t.Errorf("RetryAfter() = %v, expected 30s", wait)
	}

	clock.advance(31 * time.Second)
	if !fg.Allow("client1", "commands") {
		t.Error("Command after the first one left the window should be allowed")
	}
	if fg.Allow("client1", "commands") {
		t.Error("The second timestamp is still inside the window")
	}
}

func TestFloodgate_Allow_PerClientPerScope(t *testing.T) {
	fg, _ := newTestFloodgate(t, 1)

	if !fg.Allow("client1", "commands") || !fg.Allow("client1", "login") || !fg.Allow("client2", "commands") {
		t.Error("Each client and scope has its own limit")
	}
	if fg.Allow("client1", "commands") {
		t.Error("Extra command from client1 should be blocked")
	}
}

func TestFloodgate_ZeroLimitDisables(t *testing.T) {
	fg, _ := newTestFloodgate(t, 0)

	for i := 0; i < 100; i++ {
		if !fg.Allow("client1", "commands") {
			t.Fatal("A zero limit disables limiting")
		}
	}
	if fg.RetryAfter("client1", "commands") != 0 {
		t.Error("RetryAfter() should be zero without a limit")
	}
}

func TestFloodgate_GetStats(t *testing.T) {
	fg, _ := newTestFloodgate(t, 5)

	stats := fg.GetStats()
	if stats.ActiveClients != 0 || stats.LimitPerMinute != 5 || stats.WindowSeconds != 60 {
		t.Errorf("initial stats = %+v", stats)
	}

	fg.Allow("client1", "commands")
	fg.Allow("client2", "commands")
	fg.Allow("client1", "login")

	if stats = fg.GetStats(); stats.ActiveClients != 3 {
		t.Errorf("Expected 3 active clients, got %d", stats.ActiveClients)
	}
}

func TestFloodgate_CleanupForgetsIdleClients(t *testing.T) {
	fg, clock := newTestFloodgate(t, 1)

	fg.Allow("client1", "commands")
	clock.advance(idleTimeout + time.Second)
	fg.Allow("client2", "commands")

	fg.performCleanup()

	if stats := fg.GetStats(); stats.ActiveClients != 1 {
		t.Errorf("Expected only the recent client to survive cleanup, got %d", stats.ActiveClients)
	}
	if !fg.Allow("client1", "commands") {
		t.Error("A forgotten client starts with a fresh window")
	}
}

func TestFloodgate_ConcurrentAccess(t *testing.T) {
	fg, _ := newTestFloodgate(t, 10)

	var wg sync.WaitGroup
	var mutex sync.Mutex
	allowed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if fg.Allow("client1", "commands") {
					mutex.Lock()
					allowed++
					mutex.Unlock()
				}
				fg.GetStats()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("Expected exactly 10 allowed commands, got %d", allowed)
	}
}
