// ABOUTME: Rebuilds the page registry from the synthesized Controller folder after a deployment.
// ABOUTME: Upserts discovered pages, deletes vanished ones and repairs the default homepage.

package deploy

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/2389/dinamic/internal/overlay"
	"github.com/2389/dinamic/internal/store"
)

// Homepage setting location.
const (
	HomepageGroup = "default"
	HomepageKey   = "homepage"
)

var controllerNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (d *Deployer) initControllers(run *Run) error {
	dir := filepath.Join(d.cfg.OutputDir, "Controller")
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Stage: run.State, Folder: "Controller", Path: dir, Err: err}
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".php" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".php")
		if name == "Installer" || strings.HasPrefix(name, "Api") {
			continue
		}
		if !controllerNamePattern.MatchString(name) {
			log.Printf("Warning: %v", InvalidControllerNameError{Name: name})
			continue
		}

		page, ok, err := d.resolvePage(run, name)
		if err != nil {
			return &Error{Stage: run.State, Folder: "Controller", Path: filepath.Join(dir, entry.Name()), Err: err}
		}
		if !ok {
			continue
		}
		if err := d.upsertPage(page); err != nil {
			return &Error{Stage: run.State, Folder: "Controller", Path: filepath.Join(dir, entry.Name()), Err: err}
		}
		seen[name] = true
		run.Pages = append(run.Pages, name)
	}

	if err := d.removeVanishedPages(seen); err != nil {
		return &Error{Stage: run.State, Err: err}
	}
	if err := d.repairHomepage(seen); err != nil {
		return &Error{Stage: run.State, Err: err}
	}
	return nil
}

// resolvePage returns the page for a controller overlay. Controllers without
// a claim in this run, or whose source is not a concrete class, are not pages.
func (d *Deployer) resolvePage(run *Run, name string) (*store.Page, bool, error) {
	c, ok := run.claims[claimKey("Controller", name+".php")]
	if !ok {
		log.Printf("Warning: controller %s has no source in this deployment; skipping its page", name)
		return nil, false, nil
	}
	if c.kind != overlay.KindConcrete {
		return nil, false, nil
	}

	var page store.Page
	if factory, ok := d.lookupController(name); ok {
		page = factory().PageData()
		page.Name = name
	} else {
		var err error
		page, err = SourcePageResolver{}.Resolve(name, c.source)
		if err != nil {
			return nil, false, err
		}
	}
	return &page, true, nil
}

func (d *Deployer) upsertPage(page *store.Page) error {
	existing, err := d.pages.GetPage(page.Name)
	if err != nil {
		return fmt.Errorf("failed to load page %s: %w", page.Name, err)
	}
	if existing != nil && existing.Equal(page) {
		return nil
	}
	if err := d.pages.SavePage(page); err != nil {
		return fmt.Errorf("failed to save page %s: %w", page.Name, err)
	}
	return nil
}

func (d *Deployer) removeVanishedPages(seen map[string]bool) error {
	pages, err := d.pages.ListPages()
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	for _, p := range pages {
		if seen[p.Name] {
			continue
		}
		if err := d.pages.DeletePage(p.Name); err != nil {
			return fmt.Errorf("failed to delete page %s: %w", p.Name, err)
		}
		log.Printf("Removed page %s: controller no longer deployed", p.Name)
	}
	return nil
}

func (d *Deployer) repairHomepage(seen map[string]bool) error {
	if d.settings == nil {
		return nil
	}
	fallback := d.cfg.HomepageFallback
	home := d.settings.Get(HomepageGroup, HomepageKey, fallback)
	if seen[home] || home == fallback {
		return nil
	}
	log.Printf("Warning: homepage %s is not a deployed page; resetting to %s", home, fallback)
	d.settings.Set(HomepageGroup, HomepageKey, fallback)
	if err := d.settings.Save(); err != nil {
		return fmt.Errorf("failed to save homepage: %w", err)
	}
	return nil
}
