package cas

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/modelsteward/pkg/types"
)

const (
	// DefaultStatePath is the base directory for the content-addressed
	// store when none is configured.
	DefaultStatePath = "/var/lib/warren/models"
)

// Store is a flat, content-addressed directory of verified model
// artifacts plus the scratch area partial downloads live in before
// promotion. One digest, one file: "by-hash/<sha256>".
type Store struct {
	baseDir string
	byHash  string
	tmp     string
}

// NewStore creates (if absent) the by-hash and tmp directories under
// baseDir and returns a Store rooted there.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		baseDir = DefaultStatePath
	}

	byHash := filepath.Join(baseDir, "by-hash")
	tmp := filepath.Join(baseDir, "tmp")

	if err := os.MkdirAll(byHash, 0755); err != nil {
		return nil, fmt.Errorf("create by-hash directory: %w", err)
	}
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return nil, fmt.Errorf("create tmp directory: %w", err)
	}

	return &Store{baseDir: baseDir, byHash: byHash, tmp: tmp}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Path returns the content-addressed path for digest, whether or not the
// file exists yet.
func (s *Store) Path(digest string) string {
	return filepath.Join(s.byHash, digest)
}

// Exists reports whether digest has already been promoted into the store.
func (s *Store) Exists(digest string) bool {
	_, err := os.Stat(s.Path(digest))
	return err == nil
}

// Stat returns the size in bytes of a promoted artifact.
func (s *Store) Stat(digest string) (int64, error) {
	info, err := os.Stat(s.Path(digest))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// TempPath returns the partial-download path for digest.
func (s *Store) TempPath(digest string) string {
	return filepath.Join(s.tmp, digest+".part")
}

// SidecarPath returns the resume sidecar path beside a partial download.
func (s *Store) SidecarPath(digest string) string {
	return filepath.Join(s.tmp, digest+".part.meta")
}

// ReadSidecar loads the resume validator for digest. A missing sidecar is
// not an error; it returns a zero-value (empty) sidecar, meaning no
// If-Range header should be sent on resume.
func (s *Store) ReadSidecar(digest string) (types.ResumeSidecar, error) {
	data, err := os.ReadFile(s.SidecarPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return types.ResumeSidecar{}, nil
		}
		return types.ResumeSidecar{}, fmt.Errorf("read resume sidecar: %w", err)
	}

	var sidecar types.ResumeSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return types.ResumeSidecar{}, fmt.Errorf("decode resume sidecar: %w", err)
	}
	return sidecar, nil
}

// WriteSidecar persists the resume validator for digest.
func (s *Store) WriteSidecar(digest string, sidecar types.ResumeSidecar) error {
	data, err := json.Marshal(sidecar)
	if err != nil {
		return fmt.Errorf("encode resume sidecar: %w", err)
	}
	return os.WriteFile(s.SidecarPath(digest), data, 0644)
}

// RemoveTemp deletes a partial download and its sidecar. Safe to call when
// neither exists.
func (s *Store) RemoveTemp(digest string) error {
	if err := os.Remove(s.TempPath(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial download: %w", err)
	}
	if err := os.Remove(s.SidecarPath(digest)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove resume sidecar: %w", err)
	}
	return nil
}

// Promote moves a verified partial download into the content-addressed
// store under digest. It tries a rename first (atomic, same volume); if
// the rename fails for any reason it falls back to copy-then-remove.
// An existing file at the destination is replaced by the source in both
// paths; it is not kept.
func (s *Store) Promote(digest, tmpPath string) error {
	dest := s.Path(digest)

	if err := os.Rename(tmpPath, dest); err == nil {
		_ = os.Remove(s.SidecarPath(digest))
		return nil
	}

	if err := copyFile(tmpPath, dest); err != nil {
		return fmt.Errorf("promote %s: %w", digest, err)
	}
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove source after copy promote: %w", err)
	}
	_ = os.Remove(s.SidecarPath(digest))
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmpDest := dest + ".copytmp"
	out, err := os.OpenFile(tmpDest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpDest)
		return fmt.Errorf("copy contents: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpDest)
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpDest)
		return fmt.Errorf("close destination: %w", err)
	}
	if err := os.Rename(tmpDest, dest); err != nil {
		os.Remove(tmpDest)
		return fmt.Errorf("finalize copy: %w", err)
	}
	return nil
}

// DigestSet is the narrow view of a live-reference index the sweep needs:
// whether a given by-hash file name is still referenced by the catalog or
// any manifest. The Model Steward's HashIndex satisfies this without
// pkg/cas depending back on pkg/models.
type DigestSet interface {
	Contains(digest string) bool
}

// Sweep walks the by-hash directory and deletes any file not present in
// live and whose modification time is older than ttl. Files within the
// TTL grace window are kept even if unreferenced, since a download may be
// mid-promotion or a manifest write may not have landed yet. Sweep never
// touches a file whose name is reported as present by live.
func (s *Store) Sweep(live DigestSet, ttl time.Duration, verbose bool) (types.CASGCResult, error) {
	var result types.CASGCResult

	entries, err := os.ReadDir(s.byHash)
	if err != nil {
		return result, fmt.Errorf("read by-hash directory: %w", err)
	}

	cutoff := time.Now().Add(-ttl)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		digest := entry.Name()

		if live.Contains(digest) {
			result.Kept++
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			result.Kept++
			continue
		}

		path := filepath.Join(s.byHash, digest)
		if err := os.Remove(path); err != nil {
			continue
		}

		result.Deleted++
		result.DeletedBytes += info.Size()
		if verbose {
			result.Records = append(result.Records, types.CASGCRecord{
				SHA256:       digest,
				Path:         path,
				Bytes:        info.Size(),
				LastModified: info.ModTime(),
			})
		}
	}

	return result, nil
}
