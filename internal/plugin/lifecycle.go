// ABOUTME: Sequences plugin Init/Update/Uninstall hooks after a deployment.
// ABOUTME: Each hook kind runs under a named try-lock so concurrent callers skip instead of doubling up.

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Lock names used around hook execution.
const (
	LockInit      = "plugin-init"
	LockUpdate    = "plugin-init-update"
	LockUninstall = "plugin-init-uninstall"
)

// ErrHookFailed wraps every error returned by a plugin hook.
var ErrHookFailed = errors.New("plugin hook failed")

// Locks is a set of named, non-blocking mutual-exclusion locks.
type Locks struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocks creates an empty lock set.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]bool)}
}

// TryLock takes the named lock if it is free.
func (l *Locks) TryLock(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false
	}
	l.held[name] = true
	return true
}

// Unlock releases the named lock.
func (l *Locks) Unlock(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
}

// HookLookup resolves a plugin's hook.
type HookLookup func(name string) (Hook, bool)

// Lifecycle runs plugin hooks.
type Lifecycle struct {
	locks  *Locks
	lookup HookLookup
}

// NewLifecycle creates a lifecycle runner. A nil lookup uses the global hook
// registry; nil locks get a private lock set.
func NewLifecycle(locks *Locks, lookup HookLookup) *Lifecycle {
	if locks == nil {
		locks = NewLocks()
	}
	if lookup == nil {
		lookup = HookFor
	}
	return &Lifecycle{locks: locks, lookup: lookup}
}

// Run executes pending hooks for every plugin in ascending order and clears
// their post flags. It returns the descriptors whose flags changed so the
// caller can persist them. Hook failures are logged and returned joined; they
// never stop later plugins.
func (l *Lifecycle) Run(ctx context.Context, plugins []*Descriptor) ([]*Descriptor, error) {
	ordered := append([]*Descriptor(nil), plugins...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].Name < ordered[j].Name
	})

	var changed []*Descriptor
	var errs []error
	for _, d := range ordered {
		pending := d.PostEnable || d.PostDisable

		hook, ok := l.lookup(d.Name)
		if !ok {
			if pending {
				d.PostEnable, d.PostDisable = false, false
				changed = append(changed, d)
			}
			continue
		}

		if d.Enabled && d.PostEnable {
			errs = append(errs, l.locked(LockUpdate, d.Name, "update", func() error { return hook.Update(ctx) }))
		}
		if d.PostDisable {
			errs = append(errs, l.locked(LockUninstall, d.Name, "uninstall", func() error { return hook.Uninstall(ctx) }))
		}
		if pending {
			d.PostEnable, d.PostDisable = false, false
			changed = append(changed, d)
		}
		if d.Enabled {
			errs = append(errs, l.locked(LockInit, d.Name, "init", func() error { return hook.Init(ctx) }))
		}
	}

	return changed, errors.Join(errs...)
}

// locked runs fn under the named lock, skipping it when the lock is held.
func (l *Lifecycle) locked(lock, plugin, step string, fn func() error) error {
	if !l.locks.TryLock(lock) {
		log.Printf("Warning: skipping %s hook for plugin %s: %s is held", step, plugin, lock)
		return nil
	}
	defer l.locks.Unlock(lock)

	if err := fn(); err != nil {
		log.Printf("Plugin %s %s hook failed: %v", plugin, step, err)
		return fmt.Errorf("%w: %s %s: %w", ErrHookFailed, plugin, step, err)
	}
	return nil
}
