// ABOUTME: Tests for the lifecycle hook registry.
// ABOUTME: Validates registration, lookup, duplicate detection and concurrent access.

package plugin

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// mockHook records which hooks ran, in order.
type mockHook struct {
	mu        sync.Mutex
	calls     []string
	updateErr error
}

func (m *mockHook) record(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, step)
}

func (m *mockHook) Init(ctx context.Context) error { m.record("init"); return nil }

func (m *mockHook) Update(ctx context.Context) error {
	m.record("update")
	return m.updateErr
}

func (m *mockHook) Uninstall(ctx context.Context) error { m.record("uninstall"); return nil }

// resetRegistry clears the registry for testing
func resetRegistry() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Hook)
}

func TestRegisterHook(t *testing.T) {
	resetRegistry()

	h := &mockHook{}
	RegisterHook("Shop", h)

	got, ok := HookFor("Shop")
	if !ok {
		t.Fatal("expected hook to be registered")
	}
	if got != h {
		t.Error("HookFor returned a different hook")
	}
	if _, ok := HookFor("Other"); ok {
		t.Error("unexpected hook for Other")
	}
}

func TestRegisterHook_DuplicatePanics(t *testing.T) {
	resetRegistry()

	RegisterHook("Shop", &mockHook{})

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterHook("Shop", &mockHook{})
}

func TestHookNames_Sorted(t *testing.T) {
	resetRegistry()

	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		RegisterHook(name, &mockHook{})
	}

	names := HookNames()
	want := []string{"Alpha", "Mid", "Zeta"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("HookNames() = %v, want %v", names, want)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	resetRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			RegisterHook(fmt.Sprintf("Plugin%d", i), &mockHook{})
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			HookNames()
		}()
	}
	wg.Wait()

	if len(HookNames()) != 10 {
		t.Errorf("expected 10 hooks, got %d", len(HookNames()))
	}
}
