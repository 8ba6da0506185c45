package handshake

import (
	"net"
	"testing"
	"time"

	"github.com/srt-go/srtcore/internal/seq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Message{
		Version:        5,
		ReqType:        ReqConclusion,
		ISN:            seq.SeqNo(777),
		MSS:            1500,
		FlightFlagSize: 25600,
		SocketID:       1234,
		Cookie:         0xABCD,
		Ext: Extension{
			Present:    true,
			SRTVersion: 0x010502,
			Flags:      FlagTSBPDRcv | FlagNAKReport,
			TSBPDDelay: 120,
		},
	}
	buf := Encode(m)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m.Version, got.Version)
	assert.Equal(t, m.ISN, got.ISN)
	assert.Equal(t, m.MSS, got.MSS)
	assert.Equal(t, m.SocketID, got.SocketID)
	assert.Equal(t, m.Cookie, got.Cookie)
	assert.True(t, got.Ext.Present)
	assert.Equal(t, m.Ext.SRTVersion, got.Ext.SRTVersion)
	assert.Equal(t, m.Ext.Flags, got.Ext.Flags)
	assert.Equal(t, m.Ext.TSBPDDelay, got.Ext.TSBPDDelay)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	assert.Error(t, err)
}

func TestCookieValidAcrossPreviousEpoch(t *testing.T) {
	minter := NewCookieMinter([]byte("secret"))
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}

	t0 := time.Unix(1_700_000_000, 0)
	cookie := minter.Mint(peer, local, t0)
	assert.True(t, minter.Validate(cookie, peer, local, t0))

	// Still within the previous-epoch grace window.
	later := t0.Add(61 * time.Second)
	assert.True(t, minter.Validate(cookie, peer, local, later))
}

func TestCookieRejectedAfterTwoEpochs(t *testing.T) {
	minter := NewCookieMinter([]byte("secret"))
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}

	t0 := time.Unix(1_700_000_000, 0)
	cookie := minter.Mint(peer, local, t0)

	farLater := t0.Add(3 * epochWindow)
	assert.False(t, minter.Validate(cookie, peer, local, farLater))
}

func TestCookieDiffersByPeer(t *testing.T) {
	minter := NewCookieMinter([]byte("secret"))
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}
	peerA := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}
	peerB := &net.UDPAddr{IP: net.ParseIP("10.0.0.3"), Port: 4000}

	t0 := time.Unix(1_700_000_000, 0)
	assert.NotEqual(t, minter.Mint(peerA, local, t0), minter.Mint(peerB, local, t0))
}
