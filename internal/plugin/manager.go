// ABOUTME: Plugin manager: discovers plugins on disk and owns their enabled state and order.
// ABOUTME: Enable/disable trigger a clean deployment followed by lifecycle hooks.

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/2389/dinamic/internal/store"
)

// Manager errors.
var (
	ErrPluginNotFound    = errors.New("plugin not found")
	ErrInvalidName       = errors.New("invalid plugin name")
	ErrPluginEnabled     = errors.New("plugin is enabled")
	ErrPluginDisabled    = errors.New("plugin is disabled")
	ErrDependencyMissing = errors.New("plugin dependencies not satisfied")
	ErrRequiredByOthers  = errors.New("plugin is required by another enabled plugin")
	ErrDeployInProgress  = errors.New("a deployment is already running")
)

// StateStore persists mutable plugin state.
type StateStore interface {
	ListPluginStates() (map[string]*store.PluginState, error)
	SavePluginState(ps *store.PluginState) error
	DeletePluginState(name string) error
}

// DeployFunc runs a deployment for the given plugins, lowest precedence first.
type DeployFunc func(plugins []string, clean bool) error

// Options describe where plugins live and what the runtime provides.
type Options struct {
	PluginsDir  string
	CoreVersion float64
	PHPVersion  float64
	Extensions  []string
}

// Manager coordinates plugin state, deployment and lifecycle hooks.
type Manager struct {
	opts      Options
	states    StateStore
	deploy    DeployFunc
	lifecycle *Lifecycle

	// deployMu serializes deployments; callers never wait for one another.
	deployMu sync.Mutex
}

// NewManager creates a plugin manager. A nil lifecycle uses the global hook registry.
func NewManager(opts Options, states StateStore, deploy DeployFunc, lifecycle *Lifecycle) *Manager {
	if lifecycle == nil {
		lifecycle = NewLifecycle(nil, nil)
	}
	return &Manager{opts: opts, states: states, deploy: deploy, lifecycle: lifecycle}
}

// List returns every plugin found in the plugins directory, sorted by name,
// with stored state merged in and compatibility evaluated.
func (m *Manager) List() ([]*Descriptor, error) {
	entries, err := os.ReadDir(m.opts.PluginsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	states, err := m.states.ListPluginStates()
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin state: %w", err)
	}

	var plugins []*Descriptor
	for _, entry := range entries {
		if !entry.IsDir() || !ValidName(entry.Name()) {
			continue
		}
		d, err := Load(filepath.Join(m.opts.PluginsDir, entry.Name()))
		if errors.Is(err, ErrNoManifest) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.LoadErr != nil {
			log.Printf("Warning: %v", d.LoadErr)
		}
		if st, ok := states[d.Name]; ok {
			d.Enabled = st.Enabled
			d.Order = st.Order
			d.PostEnable = st.PostEnable
			d.PostDisable = st.PostDisable
		}
		d.CheckCompatibility(m.opts.CoreVersion, m.opts.PHPVersion)
		plugins = append(plugins, d)
	}
	return plugins, nil
}

// Get returns one plugin by name.
func (m *Manager) Get(name string) (*Descriptor, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	plugins, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, d := range plugins {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}

// Enabled returns enabled plugins by activation order. The first plugin has
// the lowest precedence: the most recently enabled plugin wins overlays.
func (m *Manager) Enabled() ([]*Descriptor, error) {
	plugins, err := m.List()
	if err != nil {
		return nil, err
	}
	var enabled []*Descriptor
	for _, d := range plugins {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Order != enabled[j].Order {
			return enabled[i].Order < enabled[j].Order
		}
		return enabled[i].Name < enabled[j].Name
	})
	return enabled, nil
}

// EnabledNames returns the names of Enabled, lowest precedence first.
func (m *Manager) EnabledNames() ([]string, error) {
	enabled, err := m.Enabled()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(enabled))
	for i, d := range enabled {
		names[i] = d.Name
	}
	return names, nil
}

// Enable activates a plugin after checking its dependencies, then redeploys.
// State changes and the redeploy happen under the deploy lock, so a plugin is
// never left enabled without its files when another deployment is running.
func (m *Manager) Enable(ctx context.Context, name string) error {
	if !m.deployMu.TryLock() {
		return ErrDeployInProgress
	}
	defer m.deployMu.Unlock()

	d, err := m.Get(name)
	if err != nil {
		return err
	}
	if d.Enabled {
		// A pending post_enable means the last deploy failed; retrying finishes it.
		if d.PostEnable {
			return m.deployLocked(ctx, true)
		}
		return nil
	}

	enabled, err := m.Enabled()
	if err != nil {
		return err
	}
	names := make([]string, len(enabled))
	maxOrder := 0
	for i, e := range enabled {
		names[i] = e.Name
		maxOrder = max(maxOrder, e.Order)
	}
	if !d.DependenciesOK(names, m.opts.Extensions, true) {
		if !d.Compatible {
			return fmt.Errorf("%w: %s: %s", ErrDependencyMissing, name, d.CompatibilityReason)
		}
		return fmt.Errorf("%w: %s needs %s", ErrDependencyMissing, name, strings.Join(d.MissingDependencies(names, m.opts.Extensions), ", "))
	}

	d.Enabled = true
	d.Order = maxOrder + 1
	d.PostEnable = true
	d.PostDisable = false
	if err := m.saveState(d); err != nil {
		return err
	}
	log.Printf("Plugin %s enabled (order %d)", name, d.Order)
	return m.deployLocked(ctx, true)
}

// Disable deactivates a plugin unless another enabled plugin requires it, then redeploys.
func (m *Manager) Disable(ctx context.Context, name string) error {
	if !m.deployMu.TryLock() {
		return ErrDeployInProgress
	}
	defer m.deployMu.Unlock()

	d, err := m.Get(name)
	if err != nil {
		return err
	}
	if !d.Enabled {
		if d.PostDisable {
			return m.deployLocked(ctx, true)
		}
		return nil
	}

	enabled, err := m.Enabled()
	if err != nil {
		return err
	}
	for _, other := range enabled {
		if other.Name != name && slices.Contains(other.RequiredPlugins, name) {
			return fmt.Errorf("%w: %s is required by %s", ErrRequiredByOthers, name, other.Name)
		}
	}

	d.Enabled = false
	d.Order = 0
	d.PostEnable = false
	d.PostDisable = true
	if err := m.saveState(d); err != nil {
		return err
	}
	log.Printf("Plugin %s disabled", name)
	return m.deployLocked(ctx, true)
}

// Update re-runs the update hook of an enabled plugin after redeploying its files.
func (m *Manager) Update(ctx context.Context, name string) error {
	if !m.deployMu.TryLock() {
		return ErrDeployInProgress
	}
	defer m.deployMu.Unlock()

	d, err := m.Get(name)
	if err != nil {
		return err
	}
	if !d.Enabled {
		return fmt.Errorf("%w: %s", ErrPluginDisabled, name)
	}
	d.PostEnable = true
	if err := m.saveState(d); err != nil {
		return err
	}
	return m.deployLocked(ctx, true)
}

// Remove deletes a disabled plugin's directory and state.
func (m *Manager) Remove(name string) error {
	if !m.deployMu.TryLock() {
		return ErrDeployInProgress
	}
	defer m.deployMu.Unlock()

	d, err := m.Get(name)
	if err != nil {
		return err
	}
	if d.Enabled {
		return fmt.Errorf("%w: disable %s before removing it", ErrPluginEnabled, name)
	}
	if err := os.RemoveAll(d.Dir); err != nil {
		return fmt.Errorf("failed to remove plugin %s: %w", name, err)
	}
	if err := m.states.DeletePluginState(name); err != nil {
		return fmt.Errorf("failed to forget plugin %s: %w", name, err)
	}
	log.Printf("Plugin %s removed", name)
	return nil
}

// Deploy rebuilds the synthesized tree for the enabled plugins and then runs
// lifecycle hooks. Returns ErrDeployInProgress when another deployment is running.
func (m *Manager) Deploy(ctx context.Context, clean bool) error {
	if !m.deployMu.TryLock() {
		return ErrDeployInProgress
	}
	defer m.deployMu.Unlock()

	return m.deployLocked(ctx, clean)
}

// deployLocked requires deployMu to be held.
func (m *Manager) deployLocked(ctx context.Context, clean bool) error {
	names, err := m.EnabledNames()
	if err != nil {
		return err
	}
	if err := m.deploy(names, clean); err != nil {
		return err
	}
	return m.runLifecycle(ctx)
}

func (m *Manager) runLifecycle(ctx context.Context) error {
	plugins, err := m.List()
	if err != nil {
		return err
	}
	changed, hookErr := m.lifecycle.Run(ctx, plugins)
	for _, d := range changed {
		if err := m.saveState(d); err != nil {
			return err
		}
	}
	return hookErr
}

func (m *Manager) saveState(d *Descriptor) error {
	err := m.states.SavePluginState(&store.PluginState{
		Name:        d.Name,
		Enabled:     d.Enabled,
		Order:       d.Order,
		PostEnable:  d.PostEnable,
		PostDisable: d.PostDisable,
	})
	if err != nil {
		return fmt.Errorf("failed to save plugin %s: %w", d.Name, err)
	}
	return nil
}
