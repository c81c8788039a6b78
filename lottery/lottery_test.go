package lottery

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func mkRelay(id byte, weight float64) RelayDescriptor {
	var d RelayDescriptor
	d.ID[0] = id
	d.Reputation = weight
	d.Performance = weight
	d.StakeFraction = weight
	return d
}

func TestNewRejectsEmptyTable(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNoRelays)
}

func TestSelectHeavilyWeightedRelayDominates(t *testing.T) {
	l, err := New([]RelayDescriptor{
		mkRelay(1, 0.0001),
		mkRelay(2, 1.0),
		mkRelay(3, 0.0001),
	})
	require.NoError(t, err)

	counts := map[[16]byte]int{}
	for i := 0; i < 500; i++ {
		var e [8]byte
		e[0] = byte(i)
		e[7] = byte(i >> 8)
		d := l.Select(e)
		counts[d.ID]++
	}
	var heavy [16]byte
	heavy[0] = 2
	require.Greater(t, counts[heavy], 400)
}

func TestSelectUniformFallbackWhenAllWeightsZero(t *testing.T) {
	l, err := New([]RelayDescriptor{mkRelay(1, 0), mkRelay(2, 0)})
	require.NoError(t, err)
	seen := map[[16]byte]bool{}
	for i := 0; i < 32; i++ {
		var e [8]byte
		e[7] = byte(i)
		seen[l.Select(e).ID] = true
	}
	require.Len(t, seen, 2)
}

func TestBuildReturnsDistinctHops(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_ = pk

	relays := make([]RelayDescriptor, 5)
	for i := range relays {
		relays[i] = mkRelay(byte(i+1), 0.2)
	}
	l, err := New(relays)
	require.NoError(t, err)

	proofs, err := l.Build(sk, []byte("path-seed"), 3)
	require.NoError(t, err)
	require.Len(t, proofs, 3)

	seen := map[[16]byte]bool{}
	for _, p := range proofs {
		require.False(t, seen[p.Relay.ID], "hop relays must be distinct")
		seen[p.Relay.ID] = true
	}
}

func TestBuildFailsWhenFewerRelaysThanHops(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	l, err := New([]RelayDescriptor{mkRelay(1, 1), mkRelay(2, 1)})
	require.NoError(t, err)

	_, err = l.Build(sk, []byte("seed"), 3)
	require.ErrorIs(t, err, ErrInsufficientRelays)
}

func TestBuildDeterministicForSameSeed(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	relays := make([]RelayDescriptor, 5)
	for i := range relays {
		relays[i] = mkRelay(byte(i+1), 0.2)
	}
	l, err := New(relays)
	require.NoError(t, err)

	p1, err := l.Build(sk, []byte("fixed-seed"), 2)
	require.NoError(t, err)
	p2, err := l.Build(sk, []byte("fixed-seed"), 2)
	require.NoError(t, err)
	require.Equal(t, p1[0].Relay.ID, p2[0].Relay.ID)
	require.Equal(t, p1[1].Relay.ID, p2[1].Relay.ID)
}
