// Package negotiator computes how many updates are outstanding by
// combining local installed-version state with the gateway's response,
// with a 24-hour retry throttle between negotiations.
package negotiator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/lattice-cms/updater/internal/logging"
	"github.com/lattice-cms/updater/internal/registry"
	"github.com/lattice-cms/updater/internal/repository"
)

var log = logging.L("negotiator")

// Persisted parameter keys.
const (
	ParamUpdateCount  = "updates.count"
	ParamRetryAt      = "updates.retry_at"
	ParamCoreBuild    = "core.build"
	ParamCoreHash     = "core.hash"
	ParamCoreModified = "core.modified"
	ParamProjectID    = "project.id"
)

// retryWindow is how long a negotiation result is trusted before the
// gateway is asked again.
const retryWindow = 24 * time.Hour

// Gateway is the client surface the negotiator needs.
type Gateway interface {
	RequestData(ctx context.Context, endpoint string, extra map[string]string) (map[string]any, error)
}

// Offer is a server-reported candidate update for one unit.
type Offer struct {
	Code          string
	TargetVersion string
	TargetHash    string
	OldVersion    string
	OldBuild      string
	Name          string
	Icon          string
}

// Result aggregates one negotiation round. Count reflects all exclusion
// rules; excluded offers are not reported.
type Result struct {
	Core    *Offer
	Plugins map[string]Offer
	Themes  map[string]Offer
	Count   int
}

// HasUpdates reports whether any update survived negotiation.
func (r *Result) HasUpdates() bool { return r.Count > 0 }

// Negotiator talks to the gateway at most once per retry window unless
// forced, and remembers the last count in the params store.
type Negotiator struct {
	gw          Gateway
	params      repository.Params
	reg         *registry.Registry
	disableCore bool
	now         func() time.Time
}

// New creates a negotiator. disableCore suppresses core offers entirely.
func New(gw Gateway, params repository.Params, reg *registry.Registry, disableCore bool) *Negotiator {
	return &Negotiator{
		gw:          gw,
		params:      params,
		reg:         reg,
		disableCore: disableCore,
		now:         time.Now,
	}
}

// Check returns the outstanding update count. A persisted count > 0 is
// returned immediately with no gateway contact; an explicit reset (a
// successful update run) is required to re-arm negotiation. Within the
// retry window, the last count is returned unchanged unless forced.
// Negotiation errors downgrade to "zero updates found" so transient
// gateway trouble never blocks unrelated operation, but the retry window
// still advances to avoid hammering the gateway.
func (n *Negotiator) Check(ctx context.Context, force bool) (int, error) {
	count := n.storedInt(ctx, ParamUpdateCount)
	if count > 0 {
		return count, nil
	}

	if !force {
		if retryAt := n.storedInt(ctx, ParamRetryAt); retryAt > 0 && n.now().Unix() < int64(retryAt) {
			return count, nil
		}
	}

	result, err := n.Negotiate(ctx, force)
	if err != nil {
		log.Warn("negotiation failed, treating as no updates", logging.KeyError, err)
		n.persistCount(ctx, 0)
		return 0, nil
	}
	return result.Count, nil
}

// Negotiate performs one negotiation round against core/update and applies
// the exclusion rules: frozen or non-updatable plugins, locally installed
// themes, and administratively disabled core updates. The resulting count
// and a fresh retry window are persisted.
func (n *Negotiator) Negotiate(ctx context.Context, force bool) (*Result, error) {
	request := map[string]string{
		"core_hash": n.storedString(ctx, ParamCoreHash),
		"plugins":   b64JSON(n.reg.PluginVersions()),
		"themes":    b64JSON(n.reg.ThemeVersions()),
		"build":     n.coreBuild(ctx),
	}
	if modified := n.storedString(ctx, ParamCoreModified); modified != "" {
		request["core_modified"] = modified
	}
	if force {
		request["force"] = "1"
	}

	payload, err := n.gw.RequestData(ctx, "core/update", request)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Plugins: make(map[string]Offer),
		Themes:  make(map[string]Offer),
	}

	// The server count covers the core offer and plugin offers; surviving
	// theme offers are added locally.
	count := intFrom(payload["update_count"])
	excluded := 0

	if offer := offerFrom("core", payload["core"]); offer != nil {
		if n.disableCore {
			excluded++
		} else {
			offer.OldBuild = n.coreBuild(ctx)
			result.Core = offer
		}
	}

	for code, raw := range offerMap(payload["plugins"]) {
		offer := offerFrom(code, raw)
		if offer == nil {
			continue
		}
		if local, err := n.reg.Plugin(code); err == nil {
			if local.Frozen || !local.Updatable {
				excluded++
				continue
			}
			offer.Name = local.Name
			offer.OldVersion = local.Version
			offer.Icon = local.Icon
		}
		result.Plugins[code] = *offer
	}

	for code, raw := range offerMap(payload["themes"]) {
		offer := offerFrom(code, raw)
		if offer == nil {
			continue
		}
		if n.reg.ThemeInstalled(code) {
			continue
		}
		result.Themes[code] = *offer
	}

	count -= excluded
	if count < 0 {
		// The server-reported count disagrees with local exclusions.
		// Under-counting is accepted; the next forced negotiation heals it.
		log.Warn("exclusions exceed server-reported count", "count", count, "excluded", excluded)
		count = 0
	}
	result.Count = count + len(result.Themes)

	n.persistCount(ctx, result.Count)
	return result, nil
}

// ResetCount clears the persisted update count after a successful update
// pass, re-arming negotiation.
func (n *Negotiator) ResetCount(ctx context.Context) error {
	return n.params.Set(ctx, ParamUpdateCount, "0")
}

func (n *Negotiator) persistCount(ctx context.Context, count int) {
	if err := n.params.Set(ctx, ParamUpdateCount, strconv.Itoa(count)); err != nil {
		log.Warn("persisting update count failed", logging.KeyError, err)
	}
	retryAt := strconv.FormatInt(n.now().Add(retryWindow).Unix(), 10)
	if err := n.params.Set(ctx, ParamRetryAt, retryAt); err != nil {
		log.Warn("persisting retry window failed", logging.KeyError, err)
	}
}

func (n *Negotiator) coreBuild(ctx context.Context) string {
	if build := n.storedString(ctx, ParamCoreBuild); build != "" {
		return build
	}
	return n.reg.CoreBuild()
}

func (n *Negotiator) storedString(ctx context.Context, key string) string {
	value, err := n.params.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warn("reading parameter failed", "key", key, logging.KeyError, err)
		}
		return ""
	}
	return value
}

func (n *Negotiator) storedInt(ctx context.Context, key string) int {
	value := n.storedString(ctx, key)
	if value == "" {
		return 0
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return i
}

func b64JSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func offerMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func offerFrom(code string, v any) *Offer {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	offer := &Offer{Code: code}
	if s, ok := m["version"].(string); ok {
		offer.TargetVersion = s
	}
	if s, ok := m["build"].(string); ok && offer.TargetVersion == "" {
		offer.TargetVersion = s
	}
	if s, ok := m["hash"].(string); ok {
		offer.TargetHash = s
	}
	return offer
}

func intFrom(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
