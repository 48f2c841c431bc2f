// ABOUTME: Tests for hook sequencing and named try-locks.
// ABOUTME: Hooks are resolved through a local lookup so the global registry stays untouched.

package plugin

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func lookupFrom(hooks map[string]Hook) HookLookup {
	return func(name string) (Hook, bool) {
		h, ok := hooks[name]
		return h, ok
	}
}

func TestLocks_TryLock(t *testing.T) {
	l := NewLocks()
	if !l.TryLock(LockInit) {
		t.Fatal("first TryLock should succeed")
	}
	if l.TryLock(LockInit) {
		t.Error("second TryLock should fail while held")
	}
	if !l.TryLock(LockUpdate) {
		t.Error("different lock name should be independent")
	}
	l.Unlock(LockInit)
	if !l.TryLock(LockInit) {
		t.Error("TryLock should succeed after Unlock")
	}
}

func TestLifecycle_Sequencing(t *testing.T) {
	tests := []struct {
		name        string
		plugin      Descriptor
		wantCalls   []string
		wantChanged bool
	}{
		{"enabled steady state", Descriptor{Name: "P", Enabled: true}, []string{"init"}, false},
		{"freshly enabled", Descriptor{Name: "P", Enabled: true, PostEnable: true}, []string{"update", "init"}, true},
		{"freshly disabled", Descriptor{Name: "P", PostDisable: true}, []string{"uninstall"}, true},
		{"disabled steady state", Descriptor{Name: "P"}, nil, false},
		{"post_enable on disabled plugin", Descriptor{Name: "P", PostEnable: true}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &mockHook{}
			lc := NewLifecycle(nil, lookupFrom(map[string]Hook{"P": h}))
			d := tt.plugin

			changed, err := lc.Run(context.Background(), []*Descriptor{&d})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !slices.Equal(h.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", h.calls, tt.wantCalls)
			}
			if (len(changed) == 1) != tt.wantChanged {
				t.Errorf("changed = %d plugins, want changed=%v", len(changed), tt.wantChanged)
			}
			if d.PostEnable || d.PostDisable {
				t.Error("post flags not cleared")
			}
		})
	}
}

func TestLifecycle_NoHookClearsFlags(t *testing.T) {
	lc := NewLifecycle(nil, lookupFrom(nil))
	d := &Descriptor{Name: "Plain", Enabled: true, PostEnable: true}

	changed, err := lc.Run(context.Background(), []*Descriptor{d})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(changed) != 1 || d.PostEnable {
		t.Errorf("flags not consumed: changed=%d post_enable=%v", len(changed), d.PostEnable)
	}
}

func TestLifecycle_RunsInActivationOrder(t *testing.T) {
	var order []string
	hooks := map[string]Hook{}
	for _, name := range []string{"A", "B", "C"} {
		hooks[name] = &orderHook{name: name, order: &order}
	}
	lc := NewLifecycle(nil, lookupFrom(hooks))

	plugins := []*Descriptor{
		{Name: "A", Enabled: true, Order: 3},
		{Name: "B", Enabled: true, Order: 1},
		{Name: "C", Enabled: true, Order: 2},
	}
	if _, err := lc.Run(context.Background(), plugins); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(order, []string{"B", "C", "A"}) {
		t.Errorf("init order = %v, want [B C A]", order)
	}
}

type orderHook struct {
	name  string
	order *[]string
}

func (o *orderHook) Init(ctx context.Context) error {
	*o.order = append(*o.order, o.name)
	return nil
}
func (o *orderHook) Update(ctx context.Context) error    { return nil }
func (o *orderHook) Uninstall(ctx context.Context) error { return nil }

func TestLifecycle_HookErrorsDoNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	failing := &mockHook{updateErr: boom}
	healthy := &mockHook{}
	lc := NewLifecycle(nil, lookupFrom(map[string]Hook{"A": failing, "B": healthy}))

	plugins := []*Descriptor{
		{Name: "A", Enabled: true, Order: 1, PostEnable: true},
		{Name: "B", Enabled: true, Order: 2},
	}
	changed, err := lc.Run(context.Background(), plugins)
	if !errors.Is(err, boom) || !errors.Is(err, ErrHookFailed) {
		t.Fatalf("Run() error = %v, want boom wrapped in ErrHookFailed", err)
	}
	if !slices.Equal(failing.calls, []string{"update", "init"}) {
		t.Errorf("failing plugin calls = %v", failing.calls)
	}
	if !slices.Equal(healthy.calls, []string{"init"}) {
		t.Errorf("healthy plugin calls = %v", healthy.calls)
	}
	if len(changed) != 1 || plugins[0].PostEnable {
		t.Error("failed update should still consume the flag")
	}
}

func TestLifecycle_HeldLockSkipsStep(t *testing.T) {
	locks := NewLocks()
	locks.TryLock(LockInit)
	h := &mockHook{}
	lc := NewLifecycle(locks, lookupFrom(map[string]Hook{"P": h}))

	d := &Descriptor{Name: "P", Enabled: true, PostEnable: true}
	if _, err := lc.Run(context.Background(), []*Descriptor{d}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !slices.Equal(h.calls, []string{"update"}) {
		t.Errorf("calls = %v, want only update", h.calls)
	}
}
