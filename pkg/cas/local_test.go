package cas

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/modelsteward/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeDigestSet map[string]bool

func (f fakeDigestSet) Contains(digest string) bool { return f[digest] }

func TestNewStoreCreatesLayout(t *testing.T) {
	base := t.TempDir()

	store, err := NewStore(base)
	require.NoError(t, err)

	require.DirExists(t, filepath.Join(base, "by-hash"))
	require.DirExists(t, filepath.Join(base, "tmp"))
	require.Equal(t, base, store.BaseDir())
}

func TestPromoteRenamesIntoByHash(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	digest := "abc123"
	require.NoError(t, os.WriteFile(store.TempPath(digest), []byte("payload"), 0644))

	require.NoError(t, store.Promote(digest, store.TempPath(digest)))

	require.True(t, store.Exists(digest))
	size, err := store.Stat(digest)
	require.NoError(t, err)
	require.EqualValues(t, len("payload"), size)

	_, err = os.Stat(store.TempPath(digest))
	require.True(t, os.IsNotExist(err))
}

func TestSidecarRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	digest := "def456"

	empty, err := store.ReadSidecar(digest)
	require.NoError(t, err)
	require.True(t, empty.Empty())

	want := types.ResumeSidecar{ETag: `"v1"`, LastModified: "Mon, 01 Jan 2024 00:00:00 GMT"}
	require.NoError(t, store.WriteSidecar(digest, want))

	got, err := store.ReadSidecar(digest)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRemoveTempDeletesPartialAndSidecar(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	digest := "ghi789"
	require.NoError(t, os.WriteFile(store.TempPath(digest), []byte("x"), 0644))
	require.NoError(t, store.WriteSidecar(digest, types.ResumeSidecar{ETag: "x"}))

	require.NoError(t, store.RemoveTemp(digest))

	_, err = os.Stat(store.TempPath(digest))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(store.SidecarPath(digest))
	require.True(t, os.IsNotExist(err))
}

func TestRemoveTempIsIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.RemoveTemp("never-existed"))
}

func TestSweepKeepsReferencedFiles(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	digest := "referenced"
	require.NoError(t, os.WriteFile(store.Path(digest), []byte("data"), 0644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path(digest), old, old))

	result, err := store.Sweep(fakeDigestSet{digest: true}, time.Hour, false)
	require.NoError(t, err)
	require.Equal(t, 1, result.Kept)
	require.Equal(t, 0, result.Deleted)
	require.True(t, store.Exists(digest))
}

func TestSweepDeletesStaleUnreferencedFiles(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	digest := "orphan"
	require.NoError(t, os.WriteFile(store.Path(digest), []byte("data"), 0644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(store.Path(digest), old, old))

	result, err := store.Sweep(fakeDigestSet{}, time.Hour, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)
	require.EqualValues(t, 4, result.DeletedBytes)
	require.Len(t, result.Records, 1)
	require.Equal(t, digest, result.Records[0].SHA256)
	require.False(t, store.Exists(digest))
}

func TestSweepGracePeriodKeepsRecentUnreferencedFiles(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	digest := "fresh-orphan"
	require.NoError(t, os.WriteFile(store.Path(digest), []byte("data"), 0644))

	result, err := store.Sweep(fakeDigestSet{}, time.Hour, false)
	require.NoError(t, err)
	require.Equal(t, 0, result.Deleted)
	require.Equal(t, 1, result.Kept)
	require.True(t, store.Exists(digest))
}
