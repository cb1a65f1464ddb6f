// Package plugins is the trust gate consulted before any plugin-supplied
// tool is registered or invoked. A plugin is admitted only when its bytes
// hash to the recorded content hash, its trust level is not none, and the
// capability the operation needs was granted when trust was recorded.
package plugins

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Capability is one grantable plugin permission.
type Capability string

const (
	CapExecuteHooks     Capability = "execute-hooks"
	CapSpawnSubagent    Capability = "spawn-subagent"
	CapAccessFilesystem Capability = "access-filesystem"
	CapNetworkAccess    Capability = "network-access"
	CapMCPServers       Capability = "mcp-servers"
)

// knownCapabilities is the closed set a record may grant.
var knownCapabilities = map[Capability]struct{}{
	CapExecuteHooks:     {},
	CapSpawnSubagent:    {},
	CapAccessFilesystem: {},
	CapNetworkAccess:    {},
	CapMCPServers:       {},
}

// TrustLevel classifies a plugin.
type TrustLevel string

const (
	TrustNone    TrustLevel = "none"
	TrustLimited TrustLevel = "limited"
	TrustFull    TrustLevel = "full"
)

var (
	// ErrNotTrusted is returned for plugins without a trust record.
	ErrNotTrusted = errors.New("plugin is not trusted")

	// ErrHashMismatch is returned when plugin bytes do not hash to the
	// recorded content hash.
	ErrHashMismatch = errors.New("plugin content hash mismatch")

	// ErrCapabilityDenied is returned when the required capability was
	// not granted.
	ErrCapabilityDenied = errors.New("capability not granted")

	// ErrMalformedHash is returned for content hashes that are not 64
	// hex characters.
	ErrMalformedHash = errors.New("content hash must be 64 hex characters")
)

// Record is one plugin's trust grant, in its persisted shape.
type Record struct {
	PluginName   string       `json:"pluginName"`
	Version      string       `json:"version"`
	TrustedAt    time.Time    `json:"trustedAt"`
	Capabilities []Capability `json:"capabilities"`
	ContentHash  string       `json:"contentHash"`
	TrustLevel   TrustLevel   `json:"trustLevel"`
}

// recordAlias avoids recursing through UnmarshalJSON.
type recordAlias Record

// UnmarshalJSON validates the content hash at parse time. A malformed
// hash is rejected before it can reach a comparison.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	if err := validateHash(alias.ContentHash); err != nil {
		return fmt.Errorf("plugin %s: %w", alias.PluginName, err)
	}
	*r = Record(alias)
	return nil
}

// HasCapability reports whether the capability was granted. Records at
// trust level none grant nothing regardless of the stored set.
func (r *Record) HasCapability(cap Capability) bool {
	if r.TrustLevel == TrustNone {
		return false
	}
	for _, granted := range r.Capabilities {
		if granted == cap {
			return true
		}
	}
	return false
}

func validateHash(hash string) error {
	if len(hash) != 64 {
		return ErrMalformedHash
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return ErrMalformedHash
	}
	return nil
}

// HashBytes computes the content hash for plugin bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Gate holds the trust records for one installation and persists them as
// a JSON document.
type Gate struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*Record
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// NewGate opens the trust store at path, loading any existing records.
// A record with a malformed hash fails the load rather than being
// silently dropped.
func NewGate(path string, opts ...Option) (*Gate, error) {
	g := &Gate{
		path:    path,
		logger:  slog.Default(),
		records: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.load(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gate) load() error {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("trust store %s: %w", g.path, err)
	}
	for _, record := range records {
		g.records[record.PluginName] = record
	}
	return nil
}

// save persists the record set under the lock, sorted by name so the
// document is stable across runs.
func (g *Gate) save() error {
	records := make([]*Record, 0, len(g.records))
	for _, record := range g.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PluginName < records[j].PluginName })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(g.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := g.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, g.path)
}

// Trust records (or replaces) a plugin's grant. The trust level derives
// from the capability set: no capabilities means none, anything else
// limited. Full is only reachable through Upgrade.
func (g *Gate) Trust(name, version string, capabilities []Capability, contentHash string) (*Record, error) {
	if name == "" {
		return nil, errors.New("plugin name is empty")
	}
	if err := validateHash(contentHash); err != nil {
		return nil, err
	}
	for _, cap := range capabilities {
		if _, ok := knownCapabilities[cap]; !ok {
			return nil, fmt.Errorf("unknown capability %q", cap)
		}
	}

	level := TrustLimited
	if len(capabilities) == 0 {
		level = TrustNone
	}
	record := &Record{
		PluginName:   name,
		Version:      version,
		TrustedAt:    time.Now().UTC(),
		Capabilities: append([]Capability(nil), capabilities...),
		ContentHash:  contentHash,
		TrustLevel:   level,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[name] = record
	if err := g.save(); err != nil {
		delete(g.records, name)
		return nil, err
	}
	g.logger.Info("plugin trusted", "plugin", name, "version", version, "level", level)

	out := *record
	return &out, nil
}

// Upgrade raises an existing record to full trust.
func (g *Gate) Upgrade(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[name]
	if !ok {
		return ErrNotTrusted
	}
	if record.TrustLevel == TrustNone {
		return fmt.Errorf("plugin %s: cannot upgrade from none", name)
	}
	prev := record.TrustLevel
	record.TrustLevel = TrustFull
	if err := g.save(); err != nil {
		record.TrustLevel = prev
		return err
	}
	g.logger.Info("plugin trust upgraded", "plugin", name)
	return nil
}

// Revoke deletes a plugin's trust record. It reports whether a record
// existed.
func (g *Gate) Revoke(name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[name]
	if !ok {
		return false, nil
	}
	delete(g.records, name)
	if err := g.save(); err != nil {
		g.records[name] = record
		return false, err
	}
	g.logger.Info("plugin trust revoked", "plugin", name)
	return true, nil
}

// Get returns a copy of a plugin's record.
func (g *Gate) Get(name string) (*Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.records[name]
	if !ok {
		return nil, false
	}
	out := *record
	return &out, true
}

// List returns all records sorted by plugin name.
func (g *Gate) List() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Record, 0, len(g.records))
	for _, record := range g.records {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginName < out[j].PluginName })
	return out
}

// IsTrusted reports whether a plugin has a record above trust level none.
func (g *Gate) IsTrusted(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.records[name]
	return ok && record.TrustLevel != TrustNone
}

// VerifyIntegrity reports whether the plugin bytes hash to the recorded
// content hash. The comparison is constant-time and case-sensitive.
func (g *Gate) VerifyIntegrity(name string, pluginBytes []byte) bool {
	g.mu.Lock()
	record, ok := g.records[name]
	g.mu.Unlock()
	if !ok {
		return false
	}

	computed := HashBytes(pluginBytes)
	match := subtle.ConstantTimeCompare([]byte(computed), []byte(record.ContentHash)) == 1
	if !match {
		g.logger.Warn("plugin integrity check failed", "plugin", name)
	}
	return match
}

// CheckCapability reports whether the plugin is trusted and holds the
// capability.
func (g *Gate) CheckCapability(name string, cap Capability) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.records[name]
	if !ok {
		return false
	}
	return record.HasCapability(cap)
}

// Authorize runs the full admission check for one plugin operation:
// integrity, trust level, capability. It returns nil only when all three
// pass.
func (g *Gate) Authorize(name string, pluginBytes []byte, cap Capability) error {
	g.mu.Lock()
	record, ok := g.records[name]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %s: %w", name, ErrNotTrusted)
	}

	if !g.VerifyIntegrity(name, pluginBytes) {
		return fmt.Errorf("plugin %s: %w", name, ErrHashMismatch)
	}
	if record.TrustLevel == TrustNone {
		return fmt.Errorf("plugin %s: %w", name, ErrNotTrusted)
	}
	if !record.HasCapability(cap) {
		return fmt.Errorf("plugin %s: %s: %w", name, cap, ErrCapabilityDenied)
	}
	return nil
}
