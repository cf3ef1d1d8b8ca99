// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package socket owns the single UDP/2152 listener a gNB core process binds
// for its N3 (NG-U) interface, demultiplexing inbound datagrams by TEID to
// the right gtpu/rx.Rx (or to the gtpu/tx.PathManager for TEID 0), and
// implementing gtpu/tx.Sender for outbound datagrams.
//
// Grounded on the teacher's example/example.go: setupN3Tunnel's
// net.ListenUDP + decap/encap goroutine pair, generalised from gnbsim's
// single hardcoded tunnel to a TEID-keyed routing table.
package socket

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/oss5g/gnbcore/internal/gnblog"
)

// Port is the IANA-assigned GTP-U port (TS 29.281 section 4.1).
const Port = "2152"

// Receiver accepts a demultiplexed inbound datagram.
type Receiver interface {
	HandlePDU(raw []byte)
}

// Conn owns one UDP socket bound to the N3 interface's GTP-U port.
type Conn struct {
	udp *net.UDPConn
	log *gnblog.Logger

	mu          sync.RWMutex
	byTEID      map[uint32]Receiver
	pathManager Receiver

	peerAddr *net.UDPAddr
}

// Listen opens a UDP socket at bindAddr (host:port) for GTP-U traffic.
func Listen(bindAddr string, log *gnblog.Logger) (*Conn, error) {
	if log == nil {
		log = gnblog.Nop()
	}
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Conn{
		udp:    udp,
		log:    log.With("component", "gtpu-socket", "bind", bindAddr),
		byTEID: make(map[uint32]Receiver),
	}, nil
}

// SetPeer fixes the destination address datagrams are sent to by SendPDU.
// A single N3 peer (the UPF) is assumed, matching the teacher's
// single-tunnel example.
func (c *Conn) SetPeer(addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerAddr = addr
}

// RegisterTunnel routes datagrams carrying teid to recv.
func (c *Conn) RegisterTunnel(teid uint32, recv Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTEID[teid] = recv
}

// UnregisterTunnel stops routing datagrams for teid.
func (c *Conn) UnregisterTunnel(teid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byTEID, teid)
}

// SetPathManager routes TEID-0 (path management) datagrams to recv.
func (c *Conn) SetPathManager(recv Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pathManager = recv
}

// gtpuHeaderTEIDOffset is fixed regardless of optional-field flags (TS
// 29.281 figure 5.1-1): version+flags, message type, length (2 bytes),
// then TEID.
const gtpuHeaderTEIDOffset = 4

// ListenAndServe reads datagrams until the socket is closed, dispatching
// each to the registered Receiver for its TEID.
func (c *Conn) ListenAndServe() error {
	buf := make([]byte, 2048)
	for {
		n, _, err := c.udp.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		raw := append([]byte(nil), buf[:n]...)
		c.dispatch(raw)
	}
}

func (c *Conn) dispatch(raw []byte) {
	if len(raw) < gtpuHeaderTEIDOffset+4 {
		c.log.Warn("dropped undersized datagram", "len", len(raw))
		return
	}
	teid := binary.BigEndian.Uint32(raw[gtpuHeaderTEIDOffset : gtpuHeaderTEIDOffset+4])

	c.mu.RLock()
	defer c.mu.RUnlock()
	if teid == 0 {
		if c.pathManager != nil {
			c.pathManager.HandlePDU(raw)
		}
		return
	}
	recv, ok := c.byTEID[teid]
	if !ok {
		c.log.Warn("dropped datagram for unknown TEID", "teid", teid)
		return
	}
	recv.HandlePDU(raw)
}

// PeerAddr returns the currently configured N3 peer address, or nil if none
// has been set yet via SetPeer.
func (c *Conn) PeerAddr() *net.UDPAddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerAddr
}

// SendPDU implements gtpu/tx.Sender, writing raw to the configured peer.
func (c *Conn) SendPDU(raw []byte) {
	c.mu.RLock()
	peer := c.peerAddr
	c.mu.RUnlock()
	if peer == nil {
		c.log.Error("dropped outbound PDU: no peer address configured")
		return
	}
	if _, err := c.udp.WriteToUDP(raw, peer); err != nil {
		c.log.Error("failed to write GTP-U datagram", "err", err)
	}
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.udp.Close()
}
