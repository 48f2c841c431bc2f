// ABOUTME: Persistent plugin state: enabled flag, activation order and pending hooks.
// ABOUTME: Manifest data stays on disk; only mutable state lives here.

package store

// PluginState is the mutable part of a plugin owned by the plugin manager.
type PluginState struct {
	Name        string
	Enabled     bool
	Order       int
	PostEnable  bool
	PostDisable bool
}

// ListPluginStates returns every stored plugin state keyed by name.
func (s *Store) ListPluginStates() (map[string]*PluginState, error) {
	rows, err := s.db.Query("SELECT name, enabled, ord, post_enable, post_disable FROM plugins")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]*PluginState)
	for rows.Next() {
		ps := &PluginState{}
		var enabled, postEnable, postDisable int
		if err := rows.Scan(&ps.Name, &enabled, &ps.Order, &postEnable, &postDisable); err != nil {
			return nil, err
		}
		ps.Enabled = enabled != 0
		ps.PostEnable = postEnable != 0
		ps.PostDisable = postDisable != 0
		states[ps.Name] = ps
	}
	return states, rows.Err()
}

// SavePluginState inserts or updates a plugin state.
func (s *Store) SavePluginState(ps *PluginState) error {
	_, err := s.db.Exec(`
		INSERT INTO plugins (name, enabled, ord, post_enable, post_disable)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			ord = excluded.ord,
			post_enable = excluded.post_enable,
			post_disable = excluded.post_disable
	`, ps.Name, boolToInt(ps.Enabled), ps.Order, boolToInt(ps.PostEnable), boolToInt(ps.PostDisable))
	return err
}

// DeletePluginState forgets a plugin.
func (s *Store) DeletePluginState(name string) error {
	_, err := s.db.Exec("DELETE FROM plugins WHERE name = ?", name)
	return err
}
