// ABOUTME: Runtime configuration from the environment and optional .env files.
// ABOUTME: Resolves source, output and database locations plus the runtime versions plugins are checked against.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"

	"github.com/2389/dinamic/internal/plugin"
)

// Config holds everything the CLI and admin server need.
type Config struct {
	Root       string
	CoreDir    string
	PluginsDir string
	OutputDir  string
	DBPath     string

	CoreVersion   float64
	PHPVersion    float64
	PHPExtensions []string

	Namespace        string
	HomepageFallback string
	Ignore           []string
	Port             string
}

// Defaults for unset variables.
const (
	DefaultCoreVersion      = "2024.0"
	DefaultPHPVersion       = "8.1"
	DefaultPHPExtensions    = "curl,gd,json,mbstring,openssl,pdo,xml,zip"
	DefaultNamespace        = "FacturaScripts"
	DefaultHomepageFallback = "Wizard"
	DefaultPort             = "9010"
)

// LoadDotEnv loads the first .env found in the working directory or its
// parent, then ~/.env. Existing environment variables are never overridden.
func LoadDotEnv() {
	for _, p := range []string{".env", "../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		godotenv.Load(filepath.Join(home, ".env"))
	}
}

// Load loads .env files and reads the configuration from the environment.
func Load() (*Config, error) {
	LoadDotEnv()
	return FromEnv(os.Getenv)
}

// FromEnv builds a configuration from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			return val
		}
		return fallback
	}

	root := filepath.Clean(get("DINAMIC_ROOT", "."))
	cfg := &Config{
		Root:             root,
		CoreDir:          get("DINAMIC_CORE_DIR", filepath.Join(root, "Core")),
		PluginsDir:       get("DINAMIC_PLUGINS_DIR", filepath.Join(root, "Plugins")),
		OutputDir:        get("DINAMIC_OUTPUT_DIR", filepath.Join(root, "Dinamic")),
		PHPExtensions:    splitList(get("DINAMIC_PHP_EXTENSIONS", DefaultPHPExtensions)),
		Namespace:        get("DINAMIC_NAMESPACE", DefaultNamespace),
		HomepageFallback: get("DINAMIC_HOMEPAGE_FALLBACK", DefaultHomepageFallback),
		Ignore:           splitList(getenv("DINAMIC_IGNORE")),
		Port:             get("DINAMIC_PORT", DefaultPort),
	}

	for _, pattern := range cfg.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid DINAMIC_IGNORE pattern %q", pattern)
		}
	}

	var ok bool
	if cfg.CoreVersion, ok = plugin.ParseVersion(get("DINAMIC_CORE_VERSION", DefaultCoreVersion)); !ok {
		return nil, fmt.Errorf("invalid DINAMIC_CORE_VERSION %q", getenv("DINAMIC_CORE_VERSION"))
	}
	if cfg.PHPVersion, ok = plugin.ParseVersion(get("DINAMIC_PHP_VERSION", DefaultPHPVersion)); !ok {
		return nil, fmt.Errorf("invalid DINAMIC_PHP_VERSION %q", getenv("DINAMIC_PHP_VERSION"))
	}

	dbPath := getenv("DINAMIC_DB_PATH")
	if strings.TrimSpace(dbPath) == "" {
		dbPath = DefaultDBPath()
	}
	clean, err := ValidateDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	cfg.DBPath = clean

	return cfg, nil
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

// sensitiveDirs are path elements the database may not live under.
var sensitiveDirs = []string{".git", ".svn", "node_modules", ".env", "credentials", "secret"}

// ValidateDBPath cleans a database path. Root-like paths and parent
// references are rejected, as are locations under a sensitive directory.
func ValidateDBPath(path string) (string, error) {
	cleanPath := filepath.Clean(strings.TrimSpace(path))
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return "", fmt.Errorf("database path cannot be empty, '.', or '/'")
	}
	if vol := filepath.VolumeName(cleanPath); vol != "" && vol == cleanPath {
		return "", fmt.Errorf("database path cannot be a bare volume %s", vol)
	}

	for _, elem := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if elem == ".." {
			return "", fmt.Errorf("database path cannot contain '..'")
		}
		if i := slices.Index(sensitiveDirs, strings.ToLower(elem)); i >= 0 {
			return "", fmt.Errorf("database path cannot be inside a '%s' directory", sensitiveDirs[i])
		}
	}
	return cleanPath, nil
}

// DefaultDBPath returns ./dinamic.db when it exists, otherwise dinamic.db
// under the platform data directory ($XDG_DATA_HOME or ~/.local/share).
func DefaultDBPath() string {
	cwdPath := "./dinamic.db"
	if _, err := os.Stat(cwdPath); err == nil {
		return cwdPath
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil || homeDir == "" || homeDir == "/" {
			log.Printf("Warning: Could not determine valid home directory (%q): %v, using ./dinamic.db", homeDir, err)
			return cwdPath
		}

		if runtime.GOOS == "windows" {
			dataHome = os.Getenv("LOCALAPPDATA")
			if dataHome == "" {
				dataHome = filepath.Join(homeDir, "AppData", "Local")
			}
		} else {
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
	}

	dataDir := filepath.Join(dataHome, "dinamic")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Printf("Warning: Could not create data directory %s: %v, using ./dinamic.db", dataDir, err)
		return cwdPath
	}

	if os.Getenv("DINAMIC_DEBUG") != "" {
		log.Printf("Using database location: %s", filepath.Join(dataDir, "dinamic.db"))
	}
	return filepath.Join(dataDir, "dinamic.db")
}
