// ABOUTME: Resolves page metadata for deployed controllers.
// ABOUTME: Registered factories win; otherwise getPageData assignments are read from the original source.

package deploy

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/2389/dinamic/internal/store"
)

// Page defaults for controllers that do not set a field.
const (
	DefaultPageIcon     = "fas fa-circle"
	DefaultPageMenu     = "new"
	DefaultPageOrderNum = 100
)

// PageProvider exposes a controller's page metadata.
type PageProvider interface {
	PageData() store.Page
}

// ControllerFactory builds a controller for page discovery.
type ControllerFactory func() PageProvider

// ControllerRegistry maps controller names to factories.
type ControllerRegistry struct {
	mu        sync.RWMutex
	factories map[string]ControllerFactory
}

// NewControllerRegistry creates an empty registry.
func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{factories: make(map[string]ControllerFactory)}
}

// Register adds a factory. Registering a name twice panics.
func (r *ControllerRegistry) Register(name string, f ControllerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("controller %q already registered", name))
	}
	r.factories[name] = f
}

// Lookup returns the factory registered for name.
func (r *ControllerRegistry) Lookup(name string) (ControllerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

var defaultControllers = NewControllerRegistry()

// RegisterController adds a factory to the package-level registry shared by
// every Deployer.
func RegisterController(name string, f ControllerFactory) {
	defaultControllers.Register(name, f)
}

func (d *Deployer) lookupController(name string) (ControllerFactory, bool) {
	if f, ok := d.controllers.Lookup(name); ok {
		return f, true
	}
	return defaultControllers.Lookup(name)
}

var (
	getPageDataPattern = regexp.MustCompile(`function\s+getPageData\s*\([^)]*\)[^{]*\{`)
	assignmentPattern  = regexp.MustCompile(`\$\w+\s*\[\s*['"](\w+)['"]\s*\]\s*=\s*([^;]+);`)
)

// DefaultPage returns the page a controller gets when it sets nothing.
func DefaultPage(name string) store.Page {
	return store.Page{
		Name:       name,
		Title:      name,
		Icon:       DefaultPageIcon,
		Menu:       DefaultPageMenu,
		ShowOnMenu: true,
		OrderNum:   DefaultPageOrderNum,
	}
}

// SourcePageResolver reads literal $data['key'] = value; assignments from a
// controller's getPageData method. Non-literal values are ignored.
type SourcePageResolver struct{}

// Resolve reads the controller source at path.
func (SourcePageResolver) Resolve(name, path string) (store.Page, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return store.Page{}, fmt.Errorf("failed to read controller %s: %w", name, err)
	}
	return ResolvePageSource(name, src), nil
}

// ResolvePageSource applies getPageData assignments found in src over the defaults.
func ResolvePageSource(name string, src []byte) store.Page {
	page := DefaultPage(name)

	body := methodBody(src)
	for _, m := range assignmentPattern.FindAllSubmatch(body, -1) {
		key := string(m[1])
		raw := strings.TrimSpace(string(m[2]))
		switch key {
		case "menu", "submenu", "title", "icon":
			s, ok := stringLiteral(raw)
			if !ok {
				continue
			}
			switch key {
			case "menu":
				page.Menu = s
			case "submenu":
				page.Submenu = s
			case "title":
				page.Title = s
			case "icon":
				page.Icon = s
			}
		case "showonmenu":
			switch strings.ToLower(raw) {
			case "true":
				page.ShowOnMenu = true
			case "false":
				page.ShowOnMenu = false
			}
		case "ordernum":
			if n, err := strconv.Atoi(raw); err == nil {
				page.OrderNum = n
			}
		}
	}
	return page
}

// methodBody returns the brace-balanced body of getPageData, or nil.
func methodBody(src []byte) []byte {
	loc := getPageDataPattern.FindIndex(src)
	if loc == nil {
		return nil
	}
	start := loc[1]
	depth := 1
	var quote byte
	for i := start; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return src[start:i]
			}
		}
	}
	return src[start:]
}

func stringLiteral(raw string) (string, bool) {
	if len(raw) < 2 {
		return "", false
	}
	q := raw[0]
	if (q != '\'' && q != '"') || raw[len(raw)-1] != q {
		return "", false
	}
	inner := raw[1 : len(raw)-1]
	if q == '\'' {
		inner = strings.NewReplacer(`\\`, `\`, `\'`, `'`).Replace(inner)
		return inner, true
	}
	if strings.Contains(inner, "$") {
		return "", false
	}
	inner = strings.NewReplacer(`\\`, `\`, `\"`, `"`).Replace(inner)
	return inner, true
}
