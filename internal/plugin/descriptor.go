// ABOUTME: Plugin manifest parsing and compatibility checks.
// ABOUTME: Reads facturascripts.ini key=value manifests and decides whether a plugin can be enabled.

package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ManifestFile is the manifest file name inside each plugin directory.
const ManifestFile = "facturascripts.ini"

// LegacyCoreFloor is the oldest core line a plugin may declare support for.
// Plugins declaring an older min_version target an unsupported legacy core.
const LegacyCoreFloor = 2020

const defaultMinPHPVersion = 7.4

var (
	// ErrNoManifest means the directory is not a plugin.
	ErrNoManifest = fmt.Errorf("plugin manifest %s not found: %w", ManifestFile, fs.ErrNotExist)

	namePattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	versionPattern = regexp.MustCompile(`^\d+(\.\d+)?`)
)

// ManifestParseError reports a manifest that could not be read or parsed.
// The plugin keeps default values for whatever could not be parsed.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

// Descriptor is a plugin as seen by the deployment engine.
type Descriptor struct {
	// Name is the plugin directory name and its identity.
	Name        string
	Description string
	Dir         string

	Version               float64
	MinCoreVersion        float64
	MinPHPVersion         float64
	RequiredPlugins       []string
	RequiredPHPExtensions []string

	// Mutable state owned by the Manager
	Enabled     bool
	Order       int
	PostEnable  bool
	PostDisable bool

	Compatible          bool
	CompatibilityReason string

	// LoadErr is a *ManifestParseError when the manifest was only partly usable.
	LoadErr error
}

// ValidName reports whether name is a safe plugin or controller identifier.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Load reads the manifest in dir. It returns ErrNoManifest when dir holds no
// manifest. Parse problems never fail the load: the descriptor keeps defaults
// and records the problem in LoadErr.
func Load(dir string) (*Descriptor, error) {
	d := &Descriptor{
		Name:          filepath.Base(dir),
		Dir:           dir,
		MinPHPVersion: defaultMinPHPVersion,
	}

	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoManifest
	}
	if err != nil {
		d.LoadErr = &ManifestParseError{Path: path, Err: err}
		return d, nil
	}

	values, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		d.LoadErr = &ManifestParseError{Path: path, Err: err}
		return d, nil
	}

	d.Description = values["description"]
	d.RequiredPlugins = splitList(values["require"])
	d.RequiredPHPExtensions = splitList(values["require_php"])

	numbers := []struct {
		key    string
		target *float64
	}{
		{"version", &d.Version},
		{"min_version", &d.MinCoreVersion},
		{"min_php", &d.MinPHPVersion},
	}
	for _, n := range numbers {
		raw, ok := values[n.key]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, ok := ParseVersion(raw)
		if !ok {
			d.LoadErr = &ManifestParseError{Path: path, Err: fmt.Errorf("invalid %s %q", n.key, raw)}
			continue
		}
		*n.target = v
	}

	if declared := values["name"]; declared != "" && declared != d.Name {
		log.Printf("Warning: plugin directory %s declares name %q; using the directory name", d.Name, declared)
	}

	return d, nil
}

// ParseVersion reads the leading major.minor number of a version string,
// so "8.1.12" becomes 8.1 and "2024" becomes 2024.
func ParseVersion(s string) (float64, bool) {
	m := versionPattern.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CheckCompatibility decides whether the plugin can run on this core and PHP
// version and stores the verdict on the descriptor.
func (d *Descriptor) CheckCompatibility(coreVersion, phpVersion float64) (bool, string) {
	switch {
	case phpVersion < d.MinPHPVersion:
		d.Compatible = false
		d.CompatibilityReason = fmt.Sprintf("requires PHP %s or later, running %s", formatVersion(d.MinPHPVersion), formatVersion(phpVersion))
	case coreVersion < d.MinCoreVersion:
		d.Compatible = false
		d.CompatibilityReason = fmt.Sprintf("requires core version %s or later, running %s", formatVersion(d.MinCoreVersion), formatVersion(coreVersion))
	case d.MinCoreVersion < LegacyCoreFloor:
		d.Compatible = false
		d.CompatibilityReason = fmt.Sprintf("declares support for core %s, older than %d and no longer supported", formatVersion(d.MinCoreVersion), LegacyCoreFloor)
	default:
		d.Compatible = true
		d.CompatibilityReason = ""
	}
	return d.Compatible, d.CompatibilityReason
}

// DependenciesOK reports whether the plugin is compatible and every required
// plugin and PHP extension is available. With warn set, one warning is logged
// per missing item.
func (d *Descriptor) DependenciesOK(enabledPlugins, loadedExtensions []string, warn bool) bool {
	if !d.Compatible {
		if warn {
			log.Printf("Warning: plugin %s is not compatible: %s", d.Name, d.CompatibilityReason)
		}
		return false
	}

	ok := true
	for _, req := range d.RequiredPlugins {
		if slices.Contains(enabledPlugins, req) {
			continue
		}
		ok = false
		if warn {
			log.Printf("Warning: plugin %s requires plugin %s", d.Name, req)
		}
	}
	for _, ext := range d.RequiredPHPExtensions {
		if slices.Contains(loadedExtensions, ext) {
			continue
		}
		ok = false
		if warn {
			log.Printf("Warning: plugin %s requires PHP extension %s", d.Name, ext)
		}
	}
	return ok
}

// MissingDependencies lists required plugins and extensions that are not available.
func (d *Descriptor) MissingDependencies(enabledPlugins, loadedExtensions []string) []string {
	var missing []string
	for _, req := range d.RequiredPlugins {
		if !slices.Contains(enabledPlugins, req) {
			missing = append(missing, req)
		}
	}
	for _, ext := range d.RequiredPHPExtensions {
		if !slices.Contains(loadedExtensions, ext) {
			missing = append(missing, "php-"+ext)
		}
	}
	return missing
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatVersion(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
