// ABOUTME: Deployment run history storage.
// ABOUTME: Records when each run started and finished, its final state, and the failing stage.

package store

import (
	"database/sql"
	"strings"
	"time"
)

// DeployRun is one recorded deployment.
type DeployRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Clean      bool      `json:"clean"`
	Plugins    []string  `json:"plugins"`
	State      string    `json:"state"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// StartDeployRun inserts a run record.
func (s *Store) StartDeployRun(r *DeployRun) error {
	_, err := s.db.Exec(`
		INSERT INTO deploy_runs (id, started_at, clean, plugins, state)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt.UTC(), boolToInt(r.Clean), strings.Join(r.Plugins, ","), r.State)
	return err
}

// FinishDeployRun stores the final state of a run.
func (s *Store) FinishDeployRun(r *DeployRun) error {
	_, err := s.db.Exec(`
		UPDATE deploy_runs SET finished_at = ?, state = ?, stage = ?, error = ?
		WHERE id = ?
	`, r.FinishedAt.UTC(), r.State, r.Stage, r.Error, r.ID)
	return err
}

// ListDeployRuns returns the most recent runs first.
func (s *Store) ListDeployRuns(limit int) ([]*DeployRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, clean, plugins, state, stage, error
		FROM deploy_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*DeployRun
	for rows.Next() {
		r := &DeployRun{}
		var finished sql.NullTime
		var clean int
		var plugins string
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &clean, &plugins, &r.State, &r.Stage, &r.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		r.Clean = clean != 0
		if plugins != "" {
			r.Plugins = strings.Split(plugins, ",")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
