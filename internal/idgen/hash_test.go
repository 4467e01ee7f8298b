package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeBase36RoundTrips(t *testing.T) {
	got := EncodeBase36([]byte{0x00, 0x00, 0x00, 0x01}, 6)
	require.Len(t, got, 6)
	require.Equal(t, "000001", got)
}

func TestGenerateTaskIDIsStableAndPrefixed(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	id1 := GenerateTaskID("Do the thing", "desc", "alice", ts, 6, 0)
	id2 := GenerateTaskID("Do the thing", "desc", "alice", ts, 6, 0)
	require.Equal(t, id1, id2)
	require.Regexp(t, `^tx-[0-9a-z]{6}$`, id1)
}

func TestGenerateTaskIDNonceAvoidsCollision(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	id1 := GenerateTaskID("Do the thing", "desc", "alice", ts, 6, 0)
	id2 := GenerateTaskID("Do the thing", "desc", "alice", ts, 6, 1)
	require.NotEqual(t, id1, id2)
}

func TestGenerateTaskIDLengthGrows(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	id8 := GenerateTaskID("x", "", "", ts, 8, 0)
	require.Regexp(t, `^tx-[0-9a-z]{8}$`, id8)
}

func TestGenerateLearningRefIsEightChars(t *testing.T) {
	ref := GenerateLearningRef("some learning content", time.Unix(1700000000, 0))
	require.Len(t, ref, 8)
}
