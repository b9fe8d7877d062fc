package mlcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// diskTier stores cache envelopes as JSON files named by the SHA-256 of the
// cache key, with the first two hex characters as a directory prefix.
type diskTier struct {
	baseDir string
}

func newDiskTier(baseDir string) (*diskTier, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &diskTier{baseDir: baseDir}, nil
}

func (d *diskTier) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(d.baseDir, name[:2], name+".json")
}

func (d *diskTier) read(key string) (kvEnvelope, bool) {
	var env kvEnvelope
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return env, false
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, false
	}
	return env, true
}

func (d *diskTier) write(key string, env kvEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p := d.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

func (d *diskTier) remove(key string) {
	os.Remove(d.path(key))
}

// sweep deletes expired and unreadable envelope files.
func (d *diskTier) sweep(nowMs int64) {
	filepath.WalkDir(d.baseDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var env kvEnvelope
		if err := json.Unmarshal(data, &env); err != nil || nowMs >= env.ExpiresAt {
			os.Remove(path)
		}
		return nil
	})
}
