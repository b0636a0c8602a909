package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
)

// snapshotVersion is bumped on incompatible layout
// changes.
const snapshotVersion = 1

// ErrBadSnapshot is returned by Load when the snapshot
// does not match its digest or has an unknown version.
var ErrBadSnapshot = errors.New("bad registry snapshot")

type snapshot struct {
	Version int      `json:"version"`
	Owner   int      `json:"owner_pid"`
	Created int64    `json:"created_unix"`
	Servers []Record `json:"servers"`
}

// Save writes the records to path as JSON and stores the
// SHA256 of the file in path+".digest".
func (r *Registry) Save(path string) error {
	const errCtx = "saving registry snapshot"

	snap := snapshot{
		Version: snapshotVersion,
		Owner:   r.Owner(),
		Created: time.Now().Unix(),
		Servers: r.Records(),
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := writeAtomic(
		path+".digest", []byte(digest(data)),
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Load appends the records of the snapshot at path. The
// records keep the owner token they were saved with, so
// the loading process does not own them. Load fails with
// ErrCapacity, leaving the registry unchanged, when the
// records do not fit.
func (r *Registry) Load(path string) error {
	const errCtx = "loading registry snapshot"

	data, err := os.ReadFile(path) //nolint:gosec // path from fixture env
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	stored, err := os.ReadFile(path + ".digest") //nolint:gosec // path from fixture env
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if string(stored) != digest(data) {
		return fmt.Errorf(
			"%s: %s: digest mismatch: %w",
			errCtx, path, ErrBadSnapshot,
		)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if snap.Version != snapshotVersion {
		return fmt.Errorf(
			"%s: version %d: %w",
			errCtx, snap.Version, ErrBadSnapshot,
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records)+len(snap.Servers) > r.capacity {
		return fmt.Errorf("%s: %w", errCtx, ErrCapacity)
	}

	r.records = append(r.records, snap.Servers...)

	return nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
