// ABOUTME: Page registry storage operations.
// ABOUTME: Persists the navigable pages discovered from deployed controllers.

package store

import (
	"database/sql"
	"errors"
)

// Page is one entry of the page registry. Name is the controller name.
type Page struct {
	Name       string `json:"name"`
	Menu       string `json:"menu"`
	Submenu    string `json:"submenu"`
	Title      string `json:"title"`
	Icon       string `json:"icon"`
	ShowOnMenu bool   `json:"showonmenu"`
	OrderNum   int    `json:"ordernum"`
}

// Equal reports whether every tracked field matches.
func (p *Page) Equal(o *Page) bool {
	return p.Name == o.Name &&
		p.Menu == o.Menu &&
		p.Submenu == o.Submenu &&
		p.Title == o.Title &&
		p.Icon == o.Icon &&
		p.ShowOnMenu == o.ShowOnMenu &&
		p.OrderNum == o.OrderNum
}

const pageColumns = "name, menu, submenu, title, icon, showonmenu, ordernum"

func scanPage(row interface{ Scan(...any) error }) (*Page, error) {
	p := &Page{}
	var show int
	if err := row.Scan(&p.Name, &p.Menu, &p.Submenu, &p.Title, &p.Icon, &show, &p.OrderNum); err != nil {
		return nil, err
	}
	p.ShowOnMenu = show != 0
	return p, nil
}

// GetPage loads a page by name. Returns nil, nil when the page is not registered.
func (s *Store) GetPage(name string) (*Page, error) {
	p, err := scanPage(s.db.QueryRow("SELECT "+pageColumns+" FROM pages WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// SavePage inserts or updates a page.
func (s *Store) SavePage(p *Page) error {
	_, err := s.db.Exec(`
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			menu = excluded.menu,
			submenu = excluded.submenu,
			title = excluded.title,
			icon = excluded.icon,
			showonmenu = excluded.showonmenu,
			ordernum = excluded.ordernum
	`, p.Name, p.Menu, p.Submenu, p.Title, p.Icon, boolToInt(p.ShowOnMenu), p.OrderNum)
	return err
}

// DeletePage removes a page from the registry.
func (s *Store) DeletePage(name string) error {
	_, err := s.db.Exec("DELETE FROM pages WHERE name = ?", name)
	return err
}

// ListPages returns every registered page ordered by menu, ordernum and name.
func (s *Store) ListPages() ([]*Page, error) {
	return s.queryPages("SELECT " + pageColumns + " FROM pages ORDER BY menu, ordernum, name")
}

// SearchPages returns pages whose name starts with prefix.
func (s *Store) SearchPages(prefix string) ([]*Page, error) {
	return s.queryPages(
		"SELECT "+pageColumns+" FROM pages WHERE name LIKE ? ESCAPE '\\' ORDER BY menu, ordernum, name",
		escapeSQLLike(prefix)+"%",
	)
}

func (s *Store) queryPages(query string, args ...any) ([]*Page, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}
