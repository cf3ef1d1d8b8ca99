// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	received chan []byte
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{received: make(chan []byte, 8)}
}

func (r *recordingReceiver) HandlePDU(raw []byte) {
	r.received <- append([]byte(nil), raw...)
}

func gtpuDatagram(teid uint32) []byte {
	raw := make([]byte, 8)
	raw[0] = 0x30 // version 1, protocol type GTP
	raw[1] = 0xff // T-PDU
	raw[2] = 0
	raw[3] = 0
	raw[4] = byte(teid >> 24)
	raw[5] = byte(teid >> 16)
	raw[6] = byte(teid >> 8)
	raw[7] = byte(teid)
	return raw
}

func TestDispatchRoutesByTEID(t *testing.T) {
	conn, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tunnel := newRecordingReceiver()
	conn.RegisterTunnel(0xAB, tunnel)

	go conn.ListenAndServe()

	client, err := net.Dial("udp", conn.udp.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(gtpuDatagram(0xAB))
	require.NoError(t, err)

	select {
	case got := <-tunnel.received:
		require.Equal(t, uint32(0xAB), uint32(got[4])<<24|uint32(got[5])<<16|uint32(got[6])<<8|uint32(got[7]))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched datagram")
	}
}

func TestDispatchRoutesTEIDZeroToPathManager(t *testing.T) {
	conn, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	pm := newRecordingReceiver()
	conn.SetPathManager(pm)

	go conn.ListenAndServe()

	client, err := net.Dial("udp", conn.udp.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(gtpuDatagram(0))
	require.NoError(t, err)

	select {
	case <-pm.received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for path management dispatch")
	}
}

func TestDispatchDropsUnknownTEID(t *testing.T) {
	conn, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tunnel := newRecordingReceiver()
	conn.RegisterTunnel(0xAB, tunnel)

	go conn.ListenAndServe()

	client, err := net.Dial("udp", conn.udp.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(gtpuDatagram(0xFF))
	require.NoError(t, err)

	select {
	case <-tunnel.received:
		t.Fatal("unexpected delivery for unregistered TEID")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendPDUWritesToConfiguredPeer(t *testing.T) {
	conn, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	peerConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer peerConn.Close()

	conn.SetPeer(peerConn.LocalAddr().(*net.UDPAddr))
	conn.SendPDU(gtpuDatagram(0x99))

	buf := make([]byte, 64)
	peerConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peerConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, gtpuDatagram(0x99), buf[:n])
}

func TestSendPDUWithoutPeerDoesNotPanic(t *testing.T) {
	conn, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NotPanics(t, func() { conn.SendPDU(gtpuDatagram(1)) })
}
