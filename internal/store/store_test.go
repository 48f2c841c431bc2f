// ABOUTME: Tests for SQLite store initialization, migrations and record operations.
// ABOUTME: Covers pages, settings, plugin state and deploy run history.

package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test_dinamic.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesTables(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"pages", "settings", "plugins", "deploy_runs", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	version, err := s.getCurrentMigrationVersion()
	if err != nil {
		t.Fatalf("getCurrentMigrationVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestNewStore_ReopenSkipsAppliedMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != CurrentSchemaVersion {
		t.Errorf("schema_migrations rows = %d, want %d", count, CurrentSchemaVersion)
	}
}

func TestStore_PageLifecycle(t *testing.T) {
	s := newTestStore(t)

	missing, err := s.GetPage("ListCliente")
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if missing != nil {
		t.Fatalf("GetPage() = %+v, want nil for unknown page", missing)
	}

	page := &Page{Name: "ListCliente", Menu: "sales", Title: "customers", Icon: "fas fa-users", ShowOnMenu: true, OrderNum: 100}
	if err := s.SavePage(page); err != nil {
		t.Fatalf("SavePage() error = %v", err)
	}

	got, err := s.GetPage("ListCliente")
	if err != nil {
		t.Fatalf("GetPage() error = %v", err)
	}
	if got == nil || !got.Equal(page) {
		t.Fatalf("GetPage() = %+v, want %+v", got, page)
	}

	page.Title = "clients"
	page.ShowOnMenu = false
	if err := s.SavePage(page); err != nil {
		t.Fatalf("SavePage() update error = %v", err)
	}
	got, _ = s.GetPage("ListCliente")
	if got.Title != "clients" || got.ShowOnMenu {
		t.Errorf("updated page = %+v", got)
	}

	if err := s.SavePage(&Page{Name: "EditCliente", Menu: "sales"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePage(&Page{Name: "Dashboard", Menu: "reports"}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListPages()
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListPages() returned %d pages, want 3", len(all))
	}

	matches, err := s.SearchPages("Edit")
	if err != nil {
		t.Fatalf("SearchPages() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "EditCliente" {
		t.Errorf("SearchPages(Edit) = %+v", matches)
	}

	if err := s.DeletePage("ListCliente"); err != nil {
		t.Fatalf("DeletePage() error = %v", err)
	}
	if got, _ := s.GetPage("ListCliente"); got != nil {
		t.Errorf("page still present after delete: %+v", got)
	}
}

func TestSearchPages_EscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"Edit_Factura", "EditXFactura"} {
		if err := s.SavePage(&Page{Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := s.SearchPages("Edit_")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Name != "Edit_Factura" {
		t.Errorf("SearchPages(Edit_) = %+v, want only Edit_Factura", matches)
	}
}

func TestSettings_GetSetSave(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if got := st.Get("default", "homepage", "Wizard"); got != "Wizard" {
		t.Errorf("Get() default = %q, want Wizard", got)
	}

	st.Set("default", "homepage", "Dashboard")
	if got := st.Get("default", "homepage", "Wizard"); got != "Dashboard" {
		t.Errorf("Get() after Set = %q, want Dashboard", got)
	}
	if err := st.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := s.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get("default", "homepage", ""); got != "Dashboard" {
		t.Errorf("persisted homepage = %q, want Dashboard", got)
	}

	// Nothing dirty: Save is a no-op
	if err := reloaded.Save(); err != nil {
		t.Errorf("Save() with no changes error = %v", err)
	}
}

func TestPluginStates(t *testing.T) {
	s := newTestStore(t)

	if err := s.SavePluginState(&PluginState{Name: "Tickets", Enabled: true, Order: 1, PostEnable: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePluginState(&PluginState{Name: "Vet", PostDisable: true}); err != nil {
		t.Fatal(err)
	}

	states, err := s.ListPluginStates()
	if err != nil {
		t.Fatalf("ListPluginStates() error = %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	tk := states["Tickets"]
	if !tk.Enabled || tk.Order != 1 || !tk.PostEnable || tk.PostDisable {
		t.Errorf("Tickets state = %+v", tk)
	}

	tk.PostEnable = false
	if err := s.SavePluginState(tk); err != nil {
		t.Fatal(err)
	}
	states, _ = s.ListPluginStates()
	if states["Tickets"].PostEnable {
		t.Error("PostEnable not cleared")
	}

	if err := s.DeletePluginState("Vet"); err != nil {
		t.Fatal(err)
	}
	states, _ = s.ListPluginStates()
	if _, ok := states["Vet"]; ok {
		t.Error("Vet state still present after delete")
	}
}

func TestDeployRuns(t *testing.T) {
	s := newTestStore(t)

	first := &DeployRun{ID: "run-1", StartedAt: time.Now().Add(-time.Minute), Clean: true, Plugins: []string{"A", "B"}, State: "CleaningFolders"}
	second := &DeployRun{ID: "run-2", StartedAt: time.Now(), State: "CleaningFolders"}
	for _, r := range []*DeployRun{first, second} {
		if err := s.StartDeployRun(r); err != nil {
			t.Fatalf("StartDeployRun() error = %v", err)
		}
	}

	first.FinishedAt = time.Now()
	first.State = "Failed"
	first.Stage = "LinkingFolder(XMLView)"
	first.Error = "bad xml"
	if err := s.FinishDeployRun(first); err != nil {
		t.Fatalf("FinishDeployRun() error = %v", err)
	}

	runs, err := s.ListDeployRuns(10)
	if err != nil {
		t.Fatalf("ListDeployRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("most recent run = %s, want run-2", runs[0].ID)
	}
	if runs[1].FinishedAt.IsZero() {
		t.Error("finished run has zero FinishedAt")
	}
	if runs[1].State != "Failed" || runs[1].Stage != "LinkingFolder(XMLView)" || !runs[1].Clean {
		t.Errorf("run-1 = %+v", runs[1])
	}
	if len(runs[1].Plugins) != 2 || runs[1].Plugins[1] != "B" {
		t.Errorf("run-1 plugins = %v", runs[1].Plugins)
	}
	if !runs[0].FinishedAt.IsZero() {
		t.Errorf("unfinished run has FinishedAt = %v", runs[0].FinishedAt)
	}
}
