// Package snapshots keeps a content-addressed shadow store of the
// workspace, independent of the user's own version control. A snapshot
// records the full tree as a manifest of file hashes; the snapshot hash
// is the hash of the manifest, so an unchanged tree always produces the
// same snapshot.
package snapshots

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSnapshotNotFound is returned for hashes the store does not hold.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrNoSnapshots is returned by operations that need a baseline when
	// none has been taken yet.
	ErrNoSnapshots = errors.New("no snapshots taken")
)

// defaultShadowDir is the store location relative to the workspace root.
const defaultShadowDir = ".vellum/snapshots"

// Snapshot describes one recorded tree state.
type Snapshot struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	FileCount int       `json:"file_count"`
}

// manifestEntry is one file in a snapshot manifest. Entries are sorted by
// path so the manifest serialization, and therefore the snapshot hash, is
// canonical.
type manifestEntry struct {
	Path string      `json:"path"`
	Hash string      `json:"hash"`
	Mode fs.FileMode `json:"mode"`
	Size int64       `json:"size"`
}

// ChangeKind classifies one entry of a diff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is one working-tree difference against a snapshot.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
}

// Store is the shadow snapshot repository for one workspace.
type Store struct {
	root   string
	shadow string
	logger *slog.Logger

	// ignore holds workspace-relative directory names never captured.
	ignore map[string]struct{}

	mu    sync.Mutex
	index []Snapshot

	watch *watcher
	dirty atomic.Bool

	statusMu   sync.Mutex
	lastStatus *Status
	lastPolled time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithShadowDir overrides the shadow store location.
func WithShadowDir(dir string) Option {
	return func(s *Store) { s.shadow = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore opens (or initializes) the shadow store for a workspace root.
func NewStore(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	s := &Store{
		root:   abs,
		shadow: filepath.Join(abs, filepath.FromSlash(defaultShadowDir)),
		logger: slog.Default(),
		ignore: map[string]struct{}{
			".git":    {},
			".vellum": {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{s.objectsDir(), s.manifestsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot store init: %w", err)
		}
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) objectsDir() string   { return filepath.Join(s.shadow, "objects") }
func (s *Store) manifestsDir() string { return filepath.Join(s.shadow, "manifests") }
func (s *Store) indexPath() string    { return filepath.Join(s.shadow, "index.json") }

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.index)
}

// saveIndex writes the index through a temp file so a crash never leaves
// a truncated document behind.
func (s *Store) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath())
}

// Take records the current working tree. When the tree is unchanged since
// the previous snapshot the previous snapshot is returned as-is; nothing
// new is written.
func (s *Store) Take(message string) (*Snapshot, error) {
	manifest, err := s.buildManifest()
	if err != nil {
		return nil, err
	}
	hash := manifestHash(manifest)

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.index); n > 0 && s.index[n-1].Hash == hash {
		prev := s.index[n-1]
		s.logger.Debug("tree unchanged, reusing snapshot", "hash", prev.Hash)
		return &prev, nil
	}

	for _, entry := range manifest {
		if err := s.storeBlob(entry); err != nil {
			return nil, err
		}
	}
	if err := s.writeManifest(hash, manifest); err != nil {
		return nil, err
	}

	snap := Snapshot{
		Hash:      hash,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		FileCount: len(manifest),
	}
	s.index = append(s.index, snap)
	if err := s.saveIndex(); err != nil {
		return nil, err
	}
	s.markClean()
	s.logger.Info("snapshot taken", "hash", hash, "files", len(manifest))
	return &snap, nil
}

// List returns all snapshots, newest first.
func (s *Store) List() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.index))
	for i, snap := range s.index {
		out[len(s.index)-1-i] = snap
	}
	return out
}

// Latest returns the most recent snapshot.
func (s *Store) Latest() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.index) == 0 {
		return nil, ErrNoSnapshots
	}
	snap := s.index[len(s.index)-1]
	return &snap, nil
}

// Restore rewrites the working tree to match the given snapshot: manifest
// files are written back and files absent from the manifest are removed.
func (s *Store) Restore(hash string) error {
	manifest, err := s.readManifest(hash)
	if err != nil {
		return err
	}

	want := make(map[string]manifestEntry, len(manifest))
	for _, entry := range manifest {
		want[entry.Path] = entry
	}

	current, err := s.buildManifest()
	if err != nil {
		return err
	}
	for _, entry := range current {
		if _, ok := want[entry.Path]; !ok {
			if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(entry.Path))); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("restore %s: remove %s: %w", hash, entry.Path, err)
			}
		}
	}

	for _, entry := range manifest {
		data, err := s.readBlob(entry.Hash)
		if err != nil {
			return fmt.Errorf("restore %s: %w", hash, err)
		}
		target := filepath.Join(s.root, filepath.FromSlash(entry.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, entry.Mode.Perm()); err != nil {
			return err
		}
	}

	s.markClean()
	s.logger.Info("workspace restored", "hash", hash, "files", len(manifest))
	return nil
}

// Diff compares the current working tree against a snapshot.
func (s *Store) Diff(hash string) ([]Change, error) {
	manifest, err := s.readManifest(hash)
	if err != nil {
		return nil, err
	}
	current, err := s.buildManifest()
	if err != nil {
		return nil, err
	}
	return diffManifests(manifest, current), nil
}

func diffManifests(base, current []manifestEntry) []Change {
	baseByPath := make(map[string]manifestEntry, len(base))
	for _, entry := range base {
		baseByPath[entry.Path] = entry
	}

	var changes []Change
	seen := make(map[string]struct{}, len(current))
	for _, entry := range current {
		seen[entry.Path] = struct{}{}
		prev, ok := baseByPath[entry.Path]
		switch {
		case !ok:
			changes = append(changes, Change{Path: entry.Path, Kind: ChangeAdded})
		case prev.Hash != entry.Hash:
			changes = append(changes, Change{Path: entry.Path, Kind: ChangeModified})
		}
	}
	for _, entry := range base {
		if _, ok := seen[entry.Path]; !ok {
			changes = append(changes, Change{Path: entry.Path, Kind: ChangeDeleted})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// buildManifest walks the working tree and hashes every regular file.
// Paths are workspace-relative with forward slashes.
func (s *Store) buildManifest() ([]manifestEntry, error) {
	var manifest []manifestEntry
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == s.shadow || (d.IsDir() && strings.HasPrefix(path, s.shadow+string(filepath.Separator))) {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := s.ignore[rel]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, err := hashFile(path)
		if err != nil {
			return err
		}
		manifest = append(manifest, manifestEntry{
			Path: filepath.ToSlash(rel),
			Hash: hash,
			Mode: info.Mode(),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot walk: %w", err)
	}

	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Path < manifest[j].Path })
	return manifest, nil
}

func manifestHash(manifest []manifestEntry) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, entry := range manifest {
		_ = enc.Encode(entry)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.objectsDir(), hash[:2], hash)
}

func (s *Store) storeBlob(entry manifestEntry) error {
	target := s.blobPath(entry.Hash)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(entry.Path)))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o444); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

func (s *Store) readBlob(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", hash, ErrSnapshotNotFound)
	}
	return data, err
}

func (s *Store) manifestPath(hash string) string {
	return filepath.Join(s.manifestsDir(), hash+".json")
}

func (s *Store) writeManifest(hash string, manifest []manifestEntry) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(s.manifestPath(hash), data, 0o644)
}

func (s *Store) readManifest(hash string) ([]manifestEntry, error) {
	if !validHash(hash) {
		return nil, fmt.Errorf("%q: %w", hash, ErrSnapshotNotFound)
	}
	data, err := os.ReadFile(s.manifestPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", hash, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, err
	}
	var manifest []manifestEntry
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func validHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
