package sphinx

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/anonmix/mixnode/constants"
	"github.com/anonmix/mixnode/crypto"
	"github.com/anonmix/mixnode/replay"
	"github.com/stretchr/testify/require"
)

type nodeKeys struct {
	sk [32]byte
	pk [32]byte
}

func genNode(t *testing.T) nodeKeys {
	sk, pk, err := crypto.GenerateX25519Keypair(rand.Reader)
	require.NoError(t, err)
	return nodeKeys{sk: sk, pk: pk}
}

func addr(b byte) [addrFieldLen]byte {
	var a [addrFieldLen]byte
	for i := range a {
		a[i] = b
	}
	return a
}

func TestBuildAndProcessThreeHopPath(t *testing.T) {
	nodes := []nodeKeys{genNode(t), genNode(t), genNode(t)}
	var localID [16]byte
	copy(localID[:], bytes.Repeat([]byte{0x42}, 16))

	path := []HopSpec{
		{PublicKey: nodes[0].pk, NextHop: addr(1), DelayHintMs: 10},
		{PublicKey: nodes[1].pk, NextHop: addr(2), DelayHintMs: 20},
		{PublicKey: nodes[2].pk, LocalID: localID},
	}

	payload := bytes.Repeat([]byte{0xAB}, constants.PayloadLength)
	frame, err := BuildPacket(0x10, path, payload, rand.Reader)
	require.NoError(t, err)
	require.Len(t, frame, constants.PacketLength)

	replays := replay.New()

	p, err := ParsePacket(frame)
	require.NoError(t, err)
	out0, err := Process(p, nodes[0].sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindForward, out0.Kind)
	require.EqualValues(t, addr(1), out0.NextHop)
	require.EqualValues(t, 10, out0.DelayHintMs)

	p1, err := ParsePacket(out0.Frame)
	require.NoError(t, err)
	out1, err := Process(p1, nodes[1].sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindForward, out1.Kind)
	require.EqualValues(t, addr(2), out1.NextHop)

	p2, err := ParsePacket(out1.Frame)
	require.NoError(t, err)
	out2, err := Process(p2, nodes[2].sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindDeliver, out2.Kind)
	require.Equal(t, localID, out2.LocalID)
	require.Equal(t, payload, out2.Plain)
}

func TestHeaderRingChangesEveryHop(t *testing.T) {
	nodes := []nodeKeys{genNode(t), genNode(t)}
	path := []HopSpec{
		{PublicKey: nodes[0].pk, NextHop: addr(7), DelayHintMs: 5},
		{PublicKey: nodes[1].pk, LocalID: [16]byte{1}},
	}
	payload := bytes.Repeat([]byte{0x01}, constants.PayloadLength)
	frame, err := BuildPacket(0, path, payload, rand.Reader)
	require.NoError(t, err)

	replays := replay.New()
	p, err := ParsePacket(frame)
	require.NoError(t, err)
	out, err := Process(p, nodes[0].sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindForward, out.Kind)

	// The ring and mac a hop forwards must not equal what it received —
	// blinding must actually change the bytes.
	require.NotEqual(t, p.RoutingInfo, out.Frame[routingInfoOff:macOff])
	require.NotEqual(t, p.MAC, out.Frame[macOff:payloadOff])
}

func TestReplayDetectedOnSecondDelivery(t *testing.T) {
	node := genNode(t)
	path := []HopSpec{{PublicKey: node.pk, LocalID: [16]byte{9}}}
	payload := bytes.Repeat([]byte{0x02}, constants.PayloadLength)
	frame, err := BuildPacket(0, path, payload, rand.Reader)
	require.NoError(t, err)

	replays := replay.New()
	p, err := ParsePacket(frame)
	require.NoError(t, err)
	out, err := Process(p, node.sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindDeliver, out.Kind)

	p2, err := ParsePacket(frame)
	require.NoError(t, err)
	out2, err := Process(p2, node.sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindDrop, out2.Kind)
	require.Equal(t, DropReplay, out2.Reason)
}

func TestCorruptedMACDropsWithoutReplayInsert(t *testing.T) {
	node := genNode(t)
	path := []HopSpec{{PublicKey: node.pk, LocalID: [16]byte{3}}}
	payload := bytes.Repeat([]byte{0x03}, constants.PayloadLength)
	frame, err := BuildPacket(0, path, payload, rand.Reader)
	require.NoError(t, err)
	frame[macOff] ^= 0xFF

	replays := replay.New()
	p, err := ParsePacket(frame)
	require.NoError(t, err)
	out, err := Process(p, node.sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindDrop, out.Kind)
	require.Equal(t, DropBadMAC, out.Reason)

	// A dropped packet must not have consumed a replay slot: the correct
	// (uncorrupted) packet should still process normally afterward.
	goodFrame, err := BuildPacket(0, path, payload, rand.Reader)
	require.NoError(t, err)
	// Re-derive using the same node key but a fresh packet construction so
	// the replay tag differs only if key derivation is itself broken.
	p3, err := ParsePacket(goodFrame)
	require.NoError(t, err)
	out3, err := Process(p3, node.sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindDeliver, out3.Kind)
}

func TestTruncatedPacketRejected(t *testing.T) {
	_, err := ParsePacket(make([]byte, constants.PacketLength-1))
	require.ErrorIs(t, err, ErrTruncatedPacket)
}

func TestIdentityEphemeralRejected(t *testing.T) {
	node := genNode(t)
	path := []HopSpec{{PublicKey: node.pk, LocalID: [16]byte{4}}}
	payload := bytes.Repeat([]byte{0x04}, constants.PayloadLength)
	frame, err := BuildPacket(0, path, payload, rand.Reader)
	require.NoError(t, err)
	for i := range frame[ephemeralOff:routingInfoOff] {
		frame[ephemeralOff+i] = 0
	}

	replays := replay.New()
	p, err := ParsePacket(frame)
	require.NoError(t, err)
	out, err := Process(p, node.sk, replays)
	require.NoError(t, err)
	require.Equal(t, KindDrop, out.Kind)
	require.Equal(t, DropCryptoFailure, out.Reason)
}

func TestBuildPacketRejectsPathTooLong(t *testing.T) {
	var path []HopSpec
	for i := 0; i < recordsPerHeader+1; i++ {
		path = append(path, HopSpec{PublicKey: genNode(t).pk, NextHop: addr(byte(i))})
	}
	payload := bytes.Repeat([]byte{0x05}, constants.PayloadLength)
	_, err := BuildPacket(0, path, payload, rand.Reader)
	require.ErrorIs(t, err, ErrPathTooLong)
}
