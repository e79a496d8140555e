package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testManifest = `core_build: "462"
modules:
  - code: cms
    version: "4.6.2"
  - code: forms
    version: "4.6.2"
plugins:
  - code: acme/blog
    version: "2.1.0"
    name: Blog
    icon: blog.svg
  - code: acme/shop
    version: "1.4.3"
    frozen: true
  - code: acme/legacy
    version: "0.9.0"
    updatable: false
themes:
  - code: slate
    version: "3.0.1"
`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "units.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestLoadManifest(t *testing.T) {
	r := loadTestRegistry(t)

	if got := r.CoreBuild(); got != "462" {
		t.Errorf("CoreBuild = %q, want 462", got)
	}
	if got := len(r.Modules()); got != 2 {
		t.Errorf("modules = %d, want 2", got)
	}
	if got := len(r.Plugins()); got != 3 {
		t.Errorf("plugins = %d, want 3", got)
	}

	blog, err := r.Plugin("acme/blog")
	if err != nil {
		t.Fatalf("Plugin: %v", err)
	}
	if blog.Name != "Blog" || blog.Icon != "blog.svg" {
		t.Errorf("plugin metadata = %+v", blog)
	}
	if !blog.Updatable {
		t.Error("updatable should default to true")
	}

	shop, _ := r.Plugin("acme/shop")
	if !shop.Frozen {
		t.Error("acme/shop should be frozen")
	}

	legacy, _ := r.Plugin("acme/legacy")
	if legacy.Updatable {
		t.Error("acme/legacy should not be updatable")
	}
}

func TestLoadMissingFileYieldsEmptyRegistry(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.Modules())+len(r.Plugins())+len(r.Themes()) != 0 {
		t.Fatal("expected empty registry for missing manifest")
	}
}

func TestPluginNotFound(t *testing.T) {
	r := loadTestRegistry(t)
	_, err := r.Plugin("acme/nonexistent")
	if !errors.Is(err, ErrUnitNotFound) {
		t.Fatalf("err = %v, want ErrUnitNotFound", err)
	}
}

func TestVersionMaps(t *testing.T) {
	r := loadTestRegistry(t)

	pv := r.PluginVersions()
	if pv["acme/blog"] != "2.1.0" || pv["acme/shop"] != "1.4.3" {
		t.Errorf("PluginVersions = %v", pv)
	}
	tv := r.ThemeVersions()
	if tv["slate"] != "3.0.1" {
		t.Errorf("ThemeVersions = %v", tv)
	}
	if !r.ThemeInstalled("slate") {
		t.Error("slate should be installed")
	}
	if r.ThemeInstalled("obsidian") {
		t.Error("obsidian should not be installed")
	}
}

func TestSetVersion(t *testing.T) {
	r := loadTestRegistry(t)

	if err := r.SetVersion("acme/blog", "2.2.0"); err != nil {
		t.Fatalf("SetVersion: %v", err)
	}
	blog, _ := r.Plugin("acme/blog")
	if blog.Version != "2.2.0" {
		t.Errorf("version = %q, want 2.2.0", blog.Version)
	}

	if err := r.SetVersion("nope", "1.0.0"); !errors.Is(err, ErrUnitNotFound) {
		t.Fatalf("err = %v, want ErrUnitNotFound", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	r := loadTestRegistry(t)
	if err := r.SetVersion("slate", "3.1.0"); err != nil {
		t.Fatalf("SetVersion: %v", err)
	}
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(r.path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	tv := reloaded.ThemeVersions()
	if tv["slate"] != "3.1.0" {
		t.Errorf("reloaded theme version = %q, want 3.1.0", tv["slate"])
	}
	legacy, _ := reloaded.Plugin("acme/legacy")
	if legacy.Updatable {
		t.Error("updatable=false should survive a save round trip")
	}
	shop, _ := reloaded.Plugin("acme/shop")
	if !shop.Frozen {
		t.Error("frozen should survive a save round trip")
	}
}

type fakeMigratable struct{ path string }

func (f fakeMigratable) UnitPath() string        { return f.path }
func (f fakeMigratable) Migrations() []Migration { return nil }

type fakeSeeder struct{}

func (fakeSeeder) Seed(ctx context.Context, db DB) ([]string, error) { return nil, nil }

func TestCapabilityBinding(t *testing.T) {
	r := loadTestRegistry(t)

	r.Bind("acme/blog", fakeMigratable{path: "plugins/acme/blog"})
	r.Bind("cms", struct {
		fakeMigratable
		fakeSeeder
	}{fakeMigratable: fakeMigratable{path: "modules/cms"}})

	m, ok := r.MigratableFor("acme/blog")
	if !ok {
		t.Fatal("acme/blog should be migratable")
	}
	if m.UnitPath() != "plugins/acme/blog" {
		t.Errorf("UnitPath = %q", m.UnitPath())
	}

	if _, ok := r.SeedableFor("acme/blog"); ok {
		t.Error("acme/blog should not be seedable")
	}
	if _, ok := r.SeedableFor("cms"); !ok {
		t.Error("cms should be seedable")
	}
	if _, ok := r.MigratableFor("acme/shop"); ok {
		t.Error("unbound unit should have no capability")
	}
}
