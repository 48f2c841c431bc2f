// ABOUTME: Grouped key/value application settings.
// ABOUTME: Values are cached in memory; Set marks keys dirty and Save flushes them.

package store

import (
	"fmt"
	"sync"
)

type settingKey struct {
	group string
	key   string
}

// Settings is the settings collaborator used by deployment to read and repair
// the default homepage. It is safe for concurrent use.
type Settings struct {
	s      *Store
	mu     sync.Mutex
	values map[settingKey]string
	dirty  map[settingKey]bool
}

// Settings loads every stored setting into memory.
func (s *Store) Settings() (*Settings, error) {
	rows, err := s.db.Query("SELECT grp, key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	st := &Settings{
		s:      s,
		values: make(map[settingKey]string),
		dirty:  make(map[settingKey]bool),
	}
	for rows.Next() {
		var k settingKey
		var v string
		if err := rows.Scan(&k.group, &k.key, &v); err != nil {
			return nil, err
		}
		st.values[k] = v
	}
	return st, rows.Err()
}

// Get returns the value for group/key, or def when unset.
func (st *Settings) Get(group, key, def string) string {
	st.mu.Lock()
	defer st.mu.Unlock()
	if v, ok := st.values[settingKey{group, key}]; ok {
		return v
	}
	return def
}

// Set updates a value in memory. Call Save to persist it.
func (st *Settings) Set(group, key, value string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	k := settingKey{group, key}
	st.values[k] = value
	st.dirty[k] = true
}

// Save persists every value changed since the last Save in one transaction.
func (st *Settings) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.dirty) == 0 {
		return nil
	}

	tx, err := st.s.db.Begin()
	if err != nil {
		return err
	}
	for k := range st.dirty {
		if _, err := tx.Exec(`
			INSERT INTO settings (grp, key, value) VALUES (?, ?, ?)
			ON CONFLICT(grp, key) DO UPDATE SET value = excluded.value
		`, k.group, k.key, st.values[k]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save setting %s.%s: %w", k.group, k.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	st.dirty = make(map[settingKey]bool)
	return nil
}
