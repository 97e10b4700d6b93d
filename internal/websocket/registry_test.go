package websocket

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func contextPair() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func detachedConnection(id string) *Connection {
	conn := &Connection{writeCh: make(chan []byte, 1), id: id}
	conn.ctx, conn.cancel = contextPair()
	return conn
}

func TestRegistry_NewRegistryInitialization(t *testing.T) {
	registry := NewRegistry()
	stats := registry.GetStats()
	if stats["total_connections"] != 0 || stats["peak_connections"] != 0 {
		t.Errorf("unexpected initial stats %v", stats)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	registry := NewRegistry()

	if err := registry.RegisterConnection(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	conn := detachedConnection("v1")
	if err := registry.RegisterConnection(conn); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := registry.RegisterConnection(conn); err != ErrDuplicateConnection {
		t.Errorf("Expected ErrDuplicateConnection, got %v", err)
	}
}

func TestRegistry_LookupAndUnregister(t *testing.T) {
	registry := NewRegistry()
	a, b := detachedConnection("a"), detachedConnection("b")
	_ = registry.RegisterConnection(a)
	_ = registry.RegisterConnection(b)

	if got, ok := registry.GetConnection("a"); !ok || got != a {
		t.Error("lookup by id failed")
	}
	if len(registry.All()) != 2 {
		t.Errorf("All() = %d connections", len(registry.All()))
	}

	// An impostor with the same id must not remove the registered viewer
	registry.UnregisterConnection(detachedConnection("a"))
	if registry.Count() != 2 {
		t.Error("impostor removed a registered connection")
	}

	registry.UnregisterConnection(a)
	registry.UnregisterConnection(a)
	registry.UnregisterConnection(nil)

	stats := registry.GetStats()
	if stats["total_connections"] != 1 || stats["peak_connections"] != 2 {
		t.Errorf("stats after unregister = %v", stats)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := detachedConnection(fmt.Sprintf("viewer-%d", i))
			_ = registry.RegisterConnection(conn)
			_ = registry.All()
			if i%2 == 0 {
				registry.UnregisterConnection(conn)
			}
		}(i)
	}
	wg.Wait()

	if registry.Count() != 25 {
		t.Errorf("expected 25 viewers, got %d", registry.Count())
	}
}
