// Package cache keeps the last-known conversation list of a scope so the
// inbox can render something while the first fetch is in flight.
//
// Snapshots live in JSON files keyed by API server and scope, or in Redis
// when several processes share one warm copy. Entries expire after
// DefaultTTL. INBOX_NO_CACHE=1 disables the file store.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/socialinbox/inbox-cli/internal/api"
)

const DefaultTTL = 10 * time.Minute

const snapshotKey = "conversations"

var snapshotFilename = regexp.MustCompile(`^` + snapshotKey + `_[0-9a-f]{12}_[0-9a-f]{12}\.json$`)

// record is the on-disk form of a snapshot.
type record struct {
	SavedAt       time.Time          `json:"saved_at"`
	Scope         string             `json:"scope"`
	Conversations []api.Conversation `json:"conversations"`
}

// FileStore keeps one snapshot file per API server and scope under Dir.
type FileStore struct {
	Dir     string
	BaseURL string
	TTL     time.Duration

	now func() time.Time
}

// NewFileStore returns a FileStore with the default TTL.
func NewFileStore(dir, baseURL string) *FileStore {
	return &FileStore{Dir: dir, BaseURL: baseURL, TTL: DefaultTTL}
}

// Path is the snapshot file of scope.
func (f *FileStore) Path(scope api.Scope) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s_%s_%s.json", snapshotKey, shortHash(f.BaseURL), shortHash(scope.Key())))
}

func (f *FileStore) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// Load implements Snapshotter. Missing, expired and corrupt files are misses.
func (f *FileStore) Load(_ context.Context, scope api.Scope) ([]api.Conversation, bool, error) {
	if disabled() {
		return nil, false, nil
	}
	data, err := os.ReadFile(f.Path(scope))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	var rec record
	if json.Unmarshal(data, &rec) != nil || rec.Scope != scope.Key() {
		return nil, false, nil
	}
	ttl := f.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if f.clock().Sub(rec.SavedAt) > ttl {
		return nil, false, nil
	}
	return rec.Conversations, true, nil
}

// Save implements Snapshotter. The file is replaced atomically.
func (f *FileStore) Save(_ context.Context, scope api.Scope, list []api.Conversation) error {
	if disabled() {
		return nil
	}
	data, err := json.Marshal(record{SavedAt: f.clock(), Scope: scope.Key(), Conversations: list})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	path := f.Path(scope)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Clear removes the snapshot of scope. A missing file is not an error.
func (f *FileStore) Clear(_ context.Context, scope api.Scope) error {
	if err := os.Remove(f.Path(scope)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ClearAll removes every snapshot file in dir and returns how many were
// removed. Other files and subdirectories are left alone.
func ClearAll(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isSnapshotFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DefaultDir returns "$XDG_CACHE_HOME/inbox-cli" or the platform equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "inbox-cli"), nil
}

func isSnapshotFile(name string) bool {
	return snapshotFilename.MatchString(name)
}

func shortHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:6])
}

func disabled() bool {
	return os.Getenv("INBOX_NO_CACHE") != ""
}
