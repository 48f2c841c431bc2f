// ABOUTME: Registry of plugin lifecycle hooks keyed by plugin name.
// ABOUTME: Plugins register their Init hook from init() functions.

package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Hook is the lifecycle entry point a plugin may provide.
type Hook interface {
	// Init runs on every deployment while the plugin is enabled.
	Init(ctx context.Context) error
	// Update runs once after the plugin is enabled or updated.
	Update(ctx context.Context) error
	// Uninstall runs once after the plugin is disabled.
	Uninstall(ctx context.Context) error
}

var (
	registry = make(map[string]Hook)
	mu       sync.RWMutex
)

// RegisterHook adds a plugin's hook to the registry
func RegisterHook(name string, h Hook) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugin hook %q already registered", name))
	}
	registry[name] = h
}

// HookFor retrieves a plugin's hook by name
func HookFor(name string) (Hook, bool) {
	mu.RLock()
	defer mu.RUnlock()
	h, ok := registry[name]
	return h, ok
}

// HookNames returns the names of all plugins with a registered hook, sorted
func HookNames() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
