package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoalescerRegisterPrimaryThenFollower(t *testing.T) {
	c := NewCoalescer()

	r1 := c.Register("m1", "digest-a")
	require.True(t, r1.IsPrimary)

	r2 := c.Register("m2", "digest-a")
	require.False(t, r2.IsPrimary)
	require.Equal(t, "m1", r2.PrimaryID)

	require.ElementsMatch(t, []string{"m1", "m2"}, c.ProgressTargets("m1"))
	require.Equal(t, []string{"m1"}, c.ProgressTargets("m2"))
}

func TestCoalescerReleasePrimaryClearsBucketAndReturnsFollowers(t *testing.T) {
	c := NewCoalescer()
	c.Register("m1", "digest-a")
	c.Register("m2", "digest-a")

	followers := c.ReleasePrimary("m1")
	require.Equal(t, []string{"m2"}, followers)
	require.Nil(t, c.ReleasePrimary("m1"))
	require.Equal(t, []string{"m2"}, c.ProgressTargets("m2"))
}

func TestCoalescerReleaseModelPromotesOldestFollower(t *testing.T) {
	c := NewCoalescer()
	c.Register("m1", "digest-a")
	c.Register("m2", "digest-a")
	c.Register("m3", "digest-a")

	promoted := c.ReleaseModel("m1")
	require.Equal(t, "m2", promoted)
	require.ElementsMatch(t, []string{"m2", "m3"}, c.ProgressTargets("m2"))
}

func TestCoalescerReleaseModelOnPlainFollowerReturnsEmpty(t *testing.T) {
	c := NewCoalescer()
	c.Register("m1", "digest-a")
	c.Register("m2", "digest-a")

	require.Equal(t, "", c.ReleaseModel("m2"))
	require.Equal(t, []string{"m1"}, c.ProgressTargets("m1"))
}

func TestCoalescerInflightSnapshot(t *testing.T) {
	c := NewCoalescer()
	c.Register("m1", "digest-a")
	c.Register("m2", "digest-a")
	c.Register("m3", "digest-b")

	snap := c.InflightSnapshot()
	require.Len(t, snap, 2)

	totals := map[string]int{}
	for _, r := range snap {
		totals[r.Digest] = r.Total
	}
	require.Equal(t, 2, totals["digest-a"])
	require.Equal(t, 1, totals["digest-b"])
}

func TestCoalescerFollowersOfPrimary(t *testing.T) {
	c := NewCoalescer()
	c.Register("m1", "digest-a")
	c.Register("m2", "digest-a")

	require.Equal(t, []string{"m2"}, c.FollowersOfPrimary("m1"))
	require.Nil(t, c.FollowersOfPrimary("m2"))
}
