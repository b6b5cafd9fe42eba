package models

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/modelsteward/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestCatalogAddUpdateAndRemove(t *testing.T) {
	c := NewCatalog(t.TempDir(), nil)

	c.Add(&types.ModelEntry{ID: "m1", Status: types.ModelStatusQueued})
	require.Len(t, c.List(), 1)

	c.Add(&types.ModelEntry{ID: "m1", Status: types.ModelStatusAvailable, Bytes: 42})
	list := c.List()
	require.Len(t, list, 1)
	require.Equal(t, types.ModelStatusAvailable, list[0].Status)
	require.EqualValues(t, 42, list[0].Bytes)

	require.True(t, c.Remove("m1"))
	require.False(t, c.Remove("m1"))
	require.Empty(t, c.List())
}

func TestCatalogSetDefaultRequiresExistingEntry(t *testing.T) {
	c := NewCatalog(t.TempDir(), nil)
	require.Error(t, c.SetDefault("missing"))

	c.Add(&types.ModelEntry{ID: "m1"})
	require.NoError(t, c.SetDefault("m1"))
	require.Equal(t, "m1", c.Summary().Default)
}

func TestCatalogSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog(dir, nil)
	c.Add(&types.ModelEntry{ID: "m1", SHA256: "a1b2", Status: types.ModelStatusAvailable})
	require.NoError(t, c.Save())

	c2 := NewCatalog(dir, nil)
	require.NoError(t, c2.Load())
	require.Len(t, c2.List(), 1)
	require.Equal(t, "m1", c2.List()[0].ID)
}

func TestCatalogLoadMissingFileIsNotError(t *testing.T) {
	c := NewCatalog(t.TempDir(), nil)
	require.NoError(t, c.Load())
	require.Empty(t, c.List())
}

func TestCatalogContainsTracksValidDigestsOnly(t *testing.T) {
	c := NewCatalog(t.TempDir(), nil)
	digest := "123456789012345678901234567890123456789012345678901234567890123a"
	c.Add(&types.ModelEntry{ID: "m1", SHA256: digest, Provider: "acme"})
	c.Add(&types.ModelEntry{ID: "m2", SHA256: "not-a-digest"})

	require.True(t, c.Contains(digest))
	require.False(t, c.Contains("not-a-digest"))
}

func TestCatalogSaveManifestWritesFile(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog(dir, nil)

	err := c.SaveManifest(&types.Manifest{ID: "m1", SHA256: "abc", Bytes: 10})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "models", "m1.json"))
}

func TestHashesPagePaginatesAndSortsByBytesDescending(t *testing.T) {
	c := NewCatalog(t.TempDir(), nil)
	digestOf := func(n int) string {
		s := ""
		for i := 0; i < 64; i++ {
			s += string(rune('0' + (n+i)%10))
		}
		return s
	}

	for i := 0; i < 5; i++ {
		c.Add(&types.ModelEntry{
			ID:       digestOf(i),
			SHA256:   digestOf(i),
			Bytes:    int64((i + 1) * 100),
			Provider: "acme",
		})
	}

	page := c.HashesPage(2, 0, "", "", "bytes", "desc")
	require.Equal(t, 5, page.Total)
	require.Len(t, page.Items, 2)
	require.EqualValues(t, 500, page.Items[0].Bytes)
	require.EqualValues(t, 400, page.Items[1].Bytes)
	require.NotNil(t, page.NextOffset)
	require.Equal(t, 2, *page.NextOffset)
	require.Nil(t, page.PrevOffset)

	next := c.HashesPage(2, *page.NextOffset, "", "", "bytes", "desc")
	require.NotNil(t, next.PrevOffset)
}

func TestHashesPageFiltersByProvider(t *testing.T) {
	c := NewCatalog(t.TempDir(), nil)
	digestA := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	digestB := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	c.Add(&types.ModelEntry{ID: "a", SHA256: digestA, Provider: "acme", Bytes: 1})
	c.Add(&types.ModelEntry{ID: "b", SHA256: digestB, Provider: "other", Bytes: 2})

	page := c.HashesPage(10, 0, "acme", "", "bytes", "desc")
	require.Equal(t, 1, page.Total)
	require.Equal(t, digestA, page.Items[0].SHA256)
}

func TestCatalogSummaryUsesConcurrencySource(t *testing.T) {
	c := NewCatalog(t.TempDir(), nil)
	c.SetConcurrencySource(func() types.ConcurrencyState {
		return types.ConcurrencyState{ConfiguredMax: 3, AvailablePermits: 3}
	})

	summary := c.Summary()
	require.Equal(t, 3, summary.Concurrency.ConfiguredMax)
}
