// Package coordinator is the top-level orchestration: full update runs,
// the symmetric uninstall path, and artifact download-and-extract.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lattice-cms/updater/internal/config"
	"github.com/lattice-cms/updater/internal/logging"
	"github.com/lattice-cms/updater/internal/migrate"
	"github.com/lattice-cms/updater/internal/negotiator"
	"github.com/lattice-cms/updater/internal/productcache"
	"github.com/lattice-cms/updater/internal/registry"
	"github.com/lattice-cms/updater/internal/repository"
)

var log = logging.L("coordinator")

// Files is the artifact-transfer surface of the gateway client.
type Files interface {
	RequestFile(ctx context.Context, endpoint, fileCode, expectedHash string, extra map[string]string) (string, error)
}

// Coordinator drives a full update or uninstall. At most one run may be in
// flight per installation; the caller serializes invocations.
type Coordinator struct {
	cfg    *config.Config
	engine *migrate.Engine
	ledger repository.Ledger
	params repository.Params
	reg    *registry.Registry
	cache  *productcache.Cache
	files  Files
	out    io.Writer
}

// New wires up a coordinator. out receives the collected notices; nil
// keeps the run silent.
func New(cfg *config.Config, engine *migrate.Engine, ledger repository.Ledger, params repository.Params,
	reg *registry.Registry, cache *productcache.Cache, files Files, out io.Writer) *Coordinator {
	if out == nil {
		out = io.Discard
	}
	return &Coordinator{
		cfg:    cfg,
		engine: engine,
		ledger: ledger,
		params: params,
		reg:    reg,
		cache:  cache,
		files:  files,
		out:    out,
	}
}

// RunFullUpdate migrates every base module, then every registered plugin,
// resets the update count, clears transient caches, seeds modules on a
// first run, and finally prints the collected notices. Migration failures
// abort the remaining queue; applied ledger entries stay intact.
func (c *Coordinator) RunFullUpdate(ctx context.Context) error {
	created, err := c.ledger.EnsureTable(ctx)
	if err != nil {
		return err
	}
	firstRun := created
	if firstRun {
		log.Info("ledger table created, treating as first run")
	}

	for _, module := range c.reg.Modules() {
		if err := c.engine.Apply(ctx, module.Code); err != nil {
			return err
		}
	}
	for _, plugin := range c.reg.Plugins() {
		if err := c.engine.Apply(ctx, plugin.Code); err != nil {
			return err
		}
	}

	if err := c.params.Set(ctx, negotiator.ParamUpdateCount, "0"); err != nil {
		return fmt.Errorf("reset update count: %w", err)
	}
	if c.cache != nil {
		if err := c.cache.Clear(); err != nil {
			log.Warn("clearing product cache failed", logging.KeyError, err)
		}
	}

	if firstRun {
		for _, module := range c.reg.Modules() {
			if err := c.engine.Seed(ctx, module.Code); err != nil {
				return err
			}
		}
	}

	if err := c.reg.Save(); err != nil {
		return fmt.Errorf("save unit manifest: %w", err)
	}

	c.printNotices()
	return nil
}

// UninstallAll rolls back every plugin in exactly the reverse of
// registration order, then every base module, then drops the ledger table.
// Plugin migrations may depend on module schema, hence the ordering.
func (c *Coordinator) UninstallAll(ctx context.Context) error {
	plugins := c.reg.Plugins()
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := c.engine.Rollback(ctx, []string{plugins[i].Code}); err != nil {
			return err
		}
	}

	modules := c.reg.Modules()
	moduleCodes := make([]string, 0, len(modules))
	for _, m := range modules {
		moduleCodes = append(moduleCodes, m.Code)
	}
	if err := c.engine.Rollback(ctx, moduleCodes); err != nil {
		return err
	}

	if err := c.ledger.DropTable(ctx); err != nil {
		return fmt.Errorf("drop ledger table: %w", err)
	}

	c.printNotices()
	return nil
}

// DownloadAndExtract transfers an artifact through the gateway and unpacks
// it to the destination derived from its namespaced identifier (dotted
// names become path segments). The temporary archive is deleted on
// success; extraction failures surface as ExtractionError.
func (c *Coordinator) DownloadAndExtract(ctx context.Context, kind registry.UnitType, identifier, hash string) error {
	fileCode := identifier + "-" + hash
	archive, err := c.files.RequestFile(ctx, string(kind)+"/download", fileCode, hash, map[string]string{
		"name": identifier,
		"hash": hash,
	})
	if err != nil {
		return err
	}

	dest := c.installPath(kind, identifier)
	log.Info("extracting artifact", logging.KeyUnit, identifier, "dest", dest)
	if err := extractZip(archive, dest); err != nil {
		return err
	}

	if err := os.Remove(archive); err != nil {
		log.Warn("removing downloaded archive failed", logging.KeyError, err)
	}
	return nil
}

func (c *Coordinator) installPath(kind registry.UnitType, identifier string) string {
	segments := strings.Split(identifier, ".")
	return filepath.Join(append([]string{c.cfg.DataDir, string(kind) + "s"}, segments...)...)
}

// printNotices emits collected notices grouped by originating unit, in
// insertion order within each group.
func (c *Coordinator) printNotices() {
	var current string
	for _, notice := range c.engine.Notices().All() {
		if notice.Unit != current {
			current = notice.Unit
			fmt.Fprintf(c.out, "%s:\n", current)
		}
		fmt.Fprintf(c.out, "  [%s] %s\n", notice.Source, notice.Message)
	}
	c.engine.Notices().Reset()
}
