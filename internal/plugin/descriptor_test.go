// ABOUTME: Tests for manifest loading, compatibility rules and dependency checks.
// ABOUTME: Uses temporary plugin directories with hand-written manifests.

package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writePlugin(t *testing.T, root, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir
}

func TestLoad_ParsesManifest(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "Shop", `# shop plugin
name = 'Shop'
description = 'Online shop'
version = 1.5
min_version = 2021
min_php = 8.0
require = 'Base, Stock'
require_php = 'curl,intl'
`)

	d, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.LoadErr != nil {
		t.Fatalf("LoadErr = %v", d.LoadErr)
	}
	if d.Name != "Shop" || d.Description != "Online shop" {
		t.Errorf("name/description = %q/%q", d.Name, d.Description)
	}
	if d.Version != 1.5 || d.MinCoreVersion != 2021 || d.MinPHPVersion != 8.0 {
		t.Errorf("versions = %v/%v/%v", d.Version, d.MinCoreVersion, d.MinPHPVersion)
	}
	if !slices.Equal(d.RequiredPlugins, []string{"Base", "Stock"}) {
		t.Errorf("RequiredPlugins = %v", d.RequiredPlugins)
	}
	if !slices.Equal(d.RequiredPHPExtensions, []string{"curl", "intl"}) {
		t.Errorf("RequiredPHPExtensions = %v", d.RequiredPHPExtensions)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "Empty", "")

	d, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.Version != 0 || d.MinPHPVersion != 7.4 {
		t.Errorf("defaults = version %v, min_php %v", d.Version, d.MinPHPVersion)
	}
	if len(d.RequiredPlugins) != 0 || len(d.RequiredPHPExtensions) != 0 {
		t.Errorf("dependency sets not empty: %v %v", d.RequiredPlugins, d.RequiredPHPExtensions)
	}
}

func TestLoad_MissingManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "NoManifest")
	os.MkdirAll(dir, 0755)

	_, err := Load(dir)
	if !errors.Is(err, ErrNoManifest) {
		t.Fatalf("Load() error = %v, want ErrNoManifest", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ErrNoManifest should wrap fs.ErrNotExist")
	}
}

func TestLoad_UnparsableKeepsDefaults(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "Broken", "[plugin]\nversion = 3\n")

	d, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	var perr *ManifestParseError
	if !errors.As(d.LoadErr, &perr) {
		t.Fatalf("LoadErr = %v, want *ManifestParseError", d.LoadErr)
	}
	if d.Version != 0 || d.MinPHPVersion != 7.4 {
		t.Errorf("defaults not kept: version %v, min_php %v", d.Version, d.MinPHPVersion)
	}
}

func TestLoad_InvalidNumber(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "Odd", "version = latest\nmin_version = 2022\n")

	d, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.LoadErr == nil {
		t.Fatal("expected LoadErr for non-numeric version")
	}
	if d.Version != 0 || d.MinCoreVersion != 2022 {
		t.Errorf("version = %v, min_version = %v", d.Version, d.MinCoreVersion)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"2024", 2024, true},
		{"8.1.12", 8.1, true},
		{" 7.4 ", 7.4, true},
		{"v2", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseVersion(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseVersion(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		minCore float64
		minPHP  float64
		core    float64
		php     float64
		want    bool
	}{
		{"legacy floor always incompatible", 2019, 7.4, 2099, 9.0, false},
		{"equal core version is compatible", 2021, 7.4, 2021, 8.1, true},
		{"core too old", 2025, 7.4, 2024, 8.1, false},
		{"php too old", 2021, 8.2, 2024, 8.1, false},
		{"missing min_version is legacy", 0, 7.4, 2024, 8.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Descriptor{Name: "P", MinCoreVersion: tt.minCore, MinPHPVersion: tt.minPHP}
			got, reason := d.CheckCompatibility(tt.core, tt.php)
			if got != tt.want {
				t.Errorf("CheckCompatibility() = %v (%s), want %v", got, reason, tt.want)
			}
			if got && reason != "" {
				t.Errorf("compatible plugin has reason %q", reason)
			}
			if !got && reason == "" {
				t.Error("incompatible plugin has no reason")
			}
			if d.Compatible != got {
				t.Error("Compatible field not updated")
			}
		})
	}
}

func TestCheckCompatibility_PHPCheckedFirst(t *testing.T) {
	d := &Descriptor{MinCoreVersion: 2019, MinPHPVersion: 9.0}
	_, reason := d.CheckCompatibility(2024, 8.1)
	if reason != "requires PHP 9 or later, running 8.1" {
		t.Errorf("reason = %q", reason)
	}
}

func TestDependenciesOK(t *testing.T) {
	base := Descriptor{
		Name:                  "Shop",
		RequiredPlugins:       []string{"Base"},
		RequiredPHPExtensions: []string{"curl"},
		Compatible:            true,
	}

	tests := []struct {
		name       string
		compatible bool
		plugins    []string
		exts       []string
		want       bool
		missing    []string
	}{
		{"all present", true, []string{"Base"}, []string{"curl"}, true, nil},
		{"missing plugin", true, nil, []string{"curl"}, false, []string{"Base"}},
		{"missing extension", true, []string{"Base"}, nil, false, []string{"php-curl"}},
		{"incompatible", false, []string{"Base"}, []string{"curl"}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			d.Compatible = tt.compatible
			if got := d.DependenciesOK(tt.plugins, tt.exts, true); got != tt.want {
				t.Errorf("DependenciesOK() = %v, want %v", got, tt.want)
			}
			if got := d.MissingDependencies(tt.plugins, tt.exts); !slices.Equal(got, tt.missing) {
				t.Errorf("MissingDependencies() = %v, want %v", got, tt.missing)
			}
		})
	}
}

func TestValidName(t *testing.T) {
	for name, want := range map[string]bool{
		"Shop":     true,
		"my_shop2": true,
		"2shop":    false,
		"../etc":   false,
		"":         false,
		"Sh op":    false,
	} {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}
