// ABOUTME: Deployment orchestrator that synthesizes the Dinamic tree from core and plugin sources.
// ABOUTME: Claims each relative path once per run, then overlays classes, merges XML or copies assets.

package deploy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/2389/dinamic/internal/overlay"
	"github.com/2389/dinamic/internal/store"
	"github.com/2389/dinamic/internal/xmlview"
)

// Folders are the logical folders overlaid on every run, in processing order.
var Folders = []string{"Assets", "Controller", "Data", "Error", "Lib", "Model", "Table", "View", "Worker", "XMLView"}

// DefaultExtensionTrait is composed into concrete controller overlays.
const DefaultExtensionTrait = `FacturaScripts\Core\Template\ExtensionsTrait`

// extensionFolder holds XML extension documents inside a plugin.
const extensionFolder = "Extension"

// Config locates the source trees and names the generated code.
type Config struct {
	CoreDir    string
	PluginsDir string
	OutputDir  string
	// Namespace is the root namespace, e.g. FacturaScripts.
	Namespace        string
	ExtensionTrait   string
	HomepageFallback string
	// Ignore holds doublestar patterns matched against "<Folder>/<relative path>".
	Ignore []string
}

// PageStore is the page registry collaborator.
type PageStore interface {
	GetPage(name string) (*store.Page, error)
	SavePage(p *store.Page) error
	DeletePage(name string) error
	ListPages() ([]*store.Page, error)
}

// SettingsStore is the settings collaborator.
type SettingsStore interface {
	Get(group, key, def string) string
	Set(group, key, value string)
	Save() error
}

// RunRecorder records deploy run history.
type RunRecorder interface {
	StartDeployRun(r *store.DeployRun) error
	FinishDeployRun(r *store.DeployRun) error
}

// Deployer runs deployments. A Deployer is not safe for concurrent Run calls;
// callers serialize invocations.
type Deployer struct {
	cfg         Config
	emitter     *overlay.Emitter
	pages       PageStore
	settings    SettingsStore
	runs        RunRecorder
	controllers *ControllerRegistry
}

// New creates a deployer. runs may be nil to skip run history.
func New(cfg Config, pages PageStore, settings SettingsStore, runs RunRecorder) *Deployer {
	if cfg.ExtensionTrait == "" {
		cfg.ExtensionTrait = DefaultExtensionTrait
	}
	if cfg.HomepageFallback == "" {
		cfg.HomepageFallback = "Wizard"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "FacturaScripts"
	}
	var ignore []string
	for _, pattern := range cfg.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			log.Printf("Warning: ignoring invalid ignore pattern %q", pattern)
			continue
		}
		ignore = append(ignore, pattern)
	}
	cfg.Ignore = ignore
	return &Deployer{
		cfg:         cfg,
		emitter:     overlay.NewEmitter(cfg.ExtensionTrait),
		pages:       pages,
		settings:    settings,
		runs:        runs,
		controllers: NewControllerRegistry(),
	}
}

// Controllers returns the deployer's own controller registry. Entries here
// take precedence over the package-level registry.
func (d *Deployer) Controllers() *ControllerRegistry {
	return d.controllers
}

// claim records which source won a relative path.
type claim struct {
	// owner is the plugin name, or empty for the core.
	owner  string
	source string
	kind   overlay.Kind
}

// Stats counts what a run produced.
type Stats struct {
	Overlays int `json:"overlays"`
	Merged   int `json:"merged"`
	Copied   int `json:"copied"`
	NotClass int `json:"not_class"`
	Shadowed int `json:"shadowed"`
	Ignored  int `json:"ignored"`
}

// Run is the context of one deployment. It replaces process-wide caches:
// claims and discovered pages live only as long as the run.
type Run struct {
	ID      string
	Plugins []string
	Clean   bool
	State   State
	Folder  string
	Stats   Stats
	Pages   []string

	claims map[string]*claim
}

func claimKey(folder, rel string) string {
	return folder + "/" + rel
}

// Claim returns the source that won folder/rel in this run.
func (r *Run) Claim(folder, rel string) (owner, source string, ok bool) {
	c, ok := r.claims[claimKey(folder, filepath.ToSlash(rel))]
	if !ok {
		return "", "", false
	}
	return c.owner, c.source, true
}

// Run synthesizes the output tree. plugins is ordered lowest precedence
// first, so the last plugin wins every contested path and the core only
// fills gaps. Any file failure aborts the run with *Error.
func (d *Deployer) Run(plugins []string, clean bool) (*Run, error) {
	run := &Run{
		ID:      uuid.NewString(),
		Plugins: append([]string(nil), plugins...),
		Clean:   clean,
		State:   StateIdle,
		claims:  make(map[string]*claim),
	}
	started := time.Now()
	d.recordStart(run, started)

	err := d.execute(run)
	if err != nil {
		run.State = StateFailed
		log.Printf("Deploy %s failed: %v", run.ID, err)
	} else {
		run.State = StateIdle
		log.Printf("Deploy %s finished in %s: %d overlays, %d merged, %d copied, %d pages",
			run.ID, time.Since(started).Round(time.Millisecond), run.Stats.Overlays, run.Stats.Merged, run.Stats.Copied, len(run.Pages))
	}
	d.recordFinish(run, err)
	return run, err
}

func (d *Deployer) execute(run *Run) error {
	if run.Clean {
		run.State = StateCleaningFolders
		for _, folder := range Folders {
			run.Folder = folder
			dir := filepath.Join(d.cfg.OutputDir, folder)
			if err := os.RemoveAll(dir); err != nil {
				return &Error{Stage: run.State, Folder: folder, Path: dir, Err: err}
			}
		}
	}

	for _, folder := range Folders {
		run.State = StateLinkingFolder
		run.Folder = folder
		dir := filepath.Join(d.cfg.OutputDir, folder)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &Error{Stage: run.State, Folder: folder, Path: dir, Err: err}
		}
		if err := d.linkFolder(run, folder); err != nil {
			return err
		}
	}

	run.State = StateRebuildingPageRegistry
	run.Folder = "Controller"
	return d.initControllers(run)
}

// linkFolder processes one logical folder: plugins from highest precedence
// down, then the core.
func (d *Deployer) linkFolder(run *Run, folder string) error {
	for i := len(run.Plugins) - 1; i >= 0; i-- {
		name := run.Plugins[i]
		src := filepath.Join(d.cfg.PluginsDir, name, folder)
		ns := overlay.JoinNamespace(d.cfg.Namespace, "Plugins", name, folder)
		if err := d.linkTree(run, folder, src, name, ns); err != nil {
			return err
		}
	}
	src := filepath.Join(d.cfg.CoreDir, folder)
	ns := overlay.JoinNamespace(d.cfg.Namespace, "Core", folder)
	return d.linkTree(run, folder, src, "", ns)
}

func (d *Deployer) linkTree(run *Run, folder, root, owner, namespace string) error {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &Error{Stage: run.State, Folder: folder, Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return &Error{Stage: run.State, Folder: folder, Path: p, Err: err}
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return &Error{Stage: run.State, Folder: folder, Path: p, Err: err}
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			dst := filepath.Join(d.cfg.OutputDir, folder, filepath.FromSlash(rel))
			if err := os.MkdirAll(dst, 0755); err != nil {
				return &Error{Stage: run.State, Folder: folder, Path: dst, Err: err}
			}
			return nil
		}

		name := entry.Name()
		if strings.TrimSuffix(name, filepath.Ext(name)) == "" {
			return nil
		}
		if d.ignored(folder, rel) {
			run.Stats.Ignored++
			return nil
		}

		key := claimKey(folder, rel)
		if _, taken := run.claims[key]; taken {
			run.Stats.Shadowed++
			return nil
		}
		c := &claim{owner: owner, source: p}
		run.claims[key] = c

		if err := d.linkFile(run, folder, rel, c, namespace); err != nil {
			var derr *Error
			if errors.As(err, &derr) {
				return err
			}
			return &Error{Stage: run.State, Folder: folder, Path: p, Err: err}
		}
		return nil
	})
}

func (d *Deployer) ignored(folder, rel string) bool {
	target := folder + "/" + rel
	for _, pattern := range d.cfg.Ignore {
		if doublestar.MatchUnvalidated(pattern, target) {
			return true
		}
	}
	return false
}

// linkFile dispatches a claimed file by extension.
func (d *Deployer) linkFile(run *Run, folder, rel string, c *claim, namespace string) error {
	dst := filepath.Join(d.cfg.OutputDir, folder, filepath.FromSlash(rel))

	switch strings.ToLower(path.Ext(rel)) {
	case ".php":
		return d.linkClass(run, folder, rel, c, namespace, dst)
	case ".xml":
		return d.linkXML(run, folder, rel, c.source, dst)
	default:
		if err := copyFile(c.source, dst); err != nil {
			return err
		}
		run.Stats.Copied++
		return nil
	}
}

func (d *Deployer) linkClass(run *Run, folder, rel string, c *claim, namespace, dst string) error {
	subdirs := strings.Split(path.Dir(rel), "/")
	if path.Dir(rel) == "." {
		subdirs = nil
	}
	className := strings.TrimSuffix(path.Base(rel), path.Ext(rel))

	facts, err := d.emitter.Emit(overlay.Request{
		SourcePath:         c.source,
		TargetPath:         dst,
		SourceNamespace:    overlay.JoinNamespace(append([]string{namespace}, subdirs...)...),
		TargetNamespace:    overlay.JoinNamespace(append([]string{d.cfg.Namespace, "Dinamic", folder}, subdirs...)...),
		ClassName:          className,
		SupportsExtensions: folder == "Controller",
	})
	if err != nil {
		return err
	}

	c.kind = facts.Kind()
	switch {
	case facts.Ambiguous:
		log.Printf("Warning: could not classify %s; not overlaid", c.source)
		run.Stats.NotClass++
	case c.kind == overlay.KindNone:
		run.Stats.NotClass++
	default:
		run.Stats.Overlays++
	}
	return nil
}

// linkXML merges every enabled plugin's extension of the document into the
// claimed base, lowest precedence first so later plugins refine earlier ones.
func (d *Deployer) linkXML(run *Run, folder, rel, base, dst string) error {
	var extensions []string
	for _, name := range run.Plugins {
		ext := filepath.Join(d.cfg.PluginsDir, name, extensionFolder, folder, filepath.FromSlash(rel))
		if _, err := os.Stat(ext); err == nil {
			extensions = append(extensions, ext)
		}
	}

	doc, err := xmlview.MergeFiles(base, extensions)
	if err != nil {
		var lerr *xmlview.LoadError
		if errors.As(err, &lerr) {
			return &Error{Stage: run.State, Folder: folder, Path: lerr.Path, Err: err}
		}
		return err
	}
	if err := xmlview.Write(doc, dst); err != nil {
		return err
	}
	run.Stats.Merged++
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &CopyError{Src: src, Dst: dst, Err: err}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &CopyError{Src: src, Dst: dst, Err: err}
	}
	out, err := os.Create(dst)
	if err != nil {
		return &CopyError{Src: src, Dst: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &CopyError{Src: src, Dst: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &CopyError{Src: src, Dst: dst, Err: err}
	}
	return nil
}

func (d *Deployer) recordStart(run *Run, started time.Time) {
	if d.runs == nil {
		return
	}
	err := d.runs.StartDeployRun(&store.DeployRun{
		ID:        run.ID,
		StartedAt: started,
		Clean:     run.Clean,
		Plugins:   run.Plugins,
		State:     "running",
	})
	if err != nil {
		log.Printf("Warning: failed to record deploy run %s: %v", run.ID, err)
	}
}

func (d *Deployer) recordFinish(run *Run, runErr error) {
	if d.runs == nil {
		return
	}
	rec := &store.DeployRun{
		ID:         run.ID,
		FinishedAt: time.Now(),
		State:      run.State.String(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
		var derr *Error
		if errors.As(runErr, &derr) {
			rec.Stage = fmt.Sprintf("%s %s", derr.Stage, derr.Folder)
		}
	}
	if err := d.runs.FinishDeployRun(rec); err != nil {
		log.Printf("Warning: failed to record deploy run %s: %v", run.ID, err)
	}
}
