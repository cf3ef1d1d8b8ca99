// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package tx implements the GTP-U transmit side: encapsulating downlink
// SDUs into T-PDUs (original_source/lib/gtpu/gtpu_tunnel_ngu_tx.h's
// handle_sdu), and the path-management messages — echo request/response
// and Error Indication — used to keep a GTP-U peer's liveness and tunnel
// state in sync (original_source/lib/gtpu/gtpu_echo_tx_impl.h and
// gtpu_echo_rx_impl.h).
package tx

import (
	"encoding/binary"

	"github.com/oss5g/gnbcore/internal/gnblog"
	"github.com/oss5g/gnbcore/internal/gtpu/pdu"
	"github.com/oss5g/gnbcore/internal/metrics"
)

// PathManagementTEID is the reserved TEID (0) used for echo and other
// tunnel/path management messages (TS 29.281 section 4.1).
const PathManagementTEID = 0

// Sender hands a fully-encoded GTP-U datagram to the UDP socket layer.
type Sender interface {
	SendPDU(raw []byte)
}

// Tx encapsulates downlink SDUs for one NG-U tunnel.
type Tx struct {
	peerTEID uint32
	sender   Sender
	log      *gnblog.Logger
	metrics  *metrics.Metrics
}

// NewTx builds a Tx that tags every outgoing T-PDU with peerTEID. m may be
// nil.
func NewTx(peerTEID uint32, sender Sender, log *gnblog.Logger, m *metrics.Metrics) *Tx {
	if log == nil {
		log = gnblog.Nop()
	}
	return &Tx{peerTEID: peerTEID, sender: sender, log: log.With("component", "gtpu-tx", "teid", peerTEID), metrics: m}
}

// HandleSDU wraps payload in a T-PDU carrying qfi in a PDU session container
// extension header and hands it to the Sender.
func (t *Tx) HandleSDU(payload []byte, qfi uint8) {
	p := pdu.PDU{
		Header: pdu.Header{
			MessageType: pdu.MsgTPDU,
			TEID:        t.peerTEID,
			HasExtHdr:   true,
			ExtHeaders: []pdu.ExtensionHeader{
				pdu.EncodePDUSessionContainer(pdu.PDUSessionInfo{Type: pdu.PDUSessionTypeDL, QFI: qfi}),
			},
		},
		Payload: payload,
	}
	t.log.Info("TX PDU", "pdu_len", len(payload), "qfi", qfi)
	t.metrics.IncPDUsSent(t.peerTEID)
	t.sender.SendPDU(p.Write())
}

// recoveryIE is the fixed "Recovery" information element (TS 29.281 section
// 8.2): tag 14, restart counter always 0.
var recoveryIE = []byte{14, 0}

// EchoTx issues and tracks GTP-U path management (echo) traffic.
type EchoTx struct {
	sender Sender
	log    *gnblog.Logger
	snNext uint16
}

// NewEchoTx builds an EchoTx.
func NewEchoTx(sender Sender, log *gnblog.Logger) *EchoTx {
	if log == nil {
		log = gnblog.Nop()
	}
	return &EchoTx{sender: sender, log: log.With("component", "gtpu-echo")}
}

// SendEchoRequest transmits an Echo Request with the next sequence number.
func (e *EchoTx) SendEchoRequest() {
	sn := e.snNext
	p := pdu.PDU{Header: pdu.Header{MessageType: pdu.MsgEchoRequest, TEID: PathManagementTEID, HasSeq: true, SeqNumber: sn}}
	e.snNext++
	e.log.Info("TX echo request", "sn", sn)
	e.sender.SendPDU(p.Write())
}

// SendEchoResponse replies to a received Echo Request, copying its sequence
// number (TS 29.281 section 4.3.1) and carrying a Recovery IE for backward
// compatibility.
func (e *EchoTx) SendEchoResponse(sn uint16) {
	p := pdu.PDU{
		Header:  pdu.Header{MessageType: pdu.MsgEchoResponse, TEID: PathManagementTEID, HasSeq: true, SeqNumber: sn},
		Payload: append([]byte(nil), recoveryIE...),
	}
	e.log.Info("TX echo response", "sn", sn)
	e.sender.SendPDU(p.Write())
}

// HandleEchoResponse records a received Echo Response's sequence number.
// Disarming a retransmission timer for the matching request is left to the
// caller: the path manager owns no per-request timer state of its own.
func (e *EchoTx) HandleEchoResponse(sn uint16) {
	e.log.Info("RX echo response", "sn", sn)
}

// ErrorIndication is the subset of TS 29.281 section 7.3's Error Indication
// message this gNB core understands: enough to log the offending tunnel.
type ErrorIndication struct {
	TEID     uint32
	PeerAddr []byte // raw IPv4 (4 bytes) or IPv6 (16 bytes) address octets
}

// Information element tags (TS 29.281 section 8.1).
const (
	ieTEIDDataI = 16
	ieGSNAddr   = 133
)

// decodeErrorIndication scans the TLV/TV information element stream of an
// Error Indication message for the IEs this implementation understands.
func decodeErrorIndication(body []byte) ErrorIndication {
	var ind ErrorIndication
	for len(body) > 0 {
		tag := body[0]
		body = body[1:]
		switch {
		case tag == ieTEIDDataI: // TV, 4-octet value
			if len(body) < 4 {
				return ind
			}
			ind.TEID = binary.BigEndian.Uint32(body[:4])
			body = body[4:]
		case tag >= 0x80: // TLV: 2-octet length prefix
			if len(body) < 2 {
				return ind
			}
			length := binary.BigEndian.Uint16(body[:2])
			body = body[2:]
			if int(length) > len(body) {
				return ind
			}
			if tag == ieGSNAddr {
				ind.PeerAddr = append([]byte(nil), body[:length]...)
			}
			body = body[length:]
		default:
			// Unrecognised TV IE of unknown fixed length: nothing more can
			// be parsed reliably, stop here.
			return ind
		}
	}
	return ind
}

// PathManager dispatches received path/tunnel management messages (TEID 0),
// mirroring gtpu_echo_rx's handle_pdu switch.
type PathManager struct {
	echoTx *EchoTx
	log    *gnblog.Logger
}

// NewPathManager builds a PathManager that replies to echoes via echoTx.
func NewPathManager(echoTx *EchoTx, log *gnblog.Logger) *PathManager {
	if log == nil {
		log = gnblog.Nop()
	}
	return &PathManager{echoTx: echoTx, log: log.With("component", "gtpu-path-mgmt")}
}

// HandlePDU dissects and dispatches one received path-management datagram.
// The name matches gtpu/rx.Rx's HandlePDU so both satisfy the same
// gtpu/socket.Receiver interface.
func (m *PathManager) HandlePDU(raw []byte) {
	dissected, err := pdu.Dissect(raw)
	if err != nil {
		m.log.Warn("failed to dissect path management PDU", "err", err)
		return
	}
	if dissected.Header.TEID != PathManagementTEID {
		m.log.Error("discarded PDU: invalid TEID for path management message", "teid", dissected.Header.TEID)
		return
	}
	if !dissected.Header.HasSeq {
		m.log.Error("discarded PDU: missing sequence number in path management message")
		return
	}

	switch dissected.Header.MessageType {
	case pdu.MsgEchoRequest:
		m.log.Info("RX echo request", "sn", dissected.Header.SeqNumber)
		m.echoTx.SendEchoResponse(dissected.Header.SeqNumber)
	case pdu.MsgEchoResponse:
		m.echoTx.HandleEchoResponse(dissected.Header.SeqNumber)
	case pdu.MsgSupportedExtensionHeadersNotification:
		// TS 29.281 section 5.1: the SN shall be ignored for this message
		// even though the S flag is set.
		m.log.Warn("discarded PDU: supported extension headers notification not supported")
	case pdu.MsgErrorIndication:
		ind := decodeErrorIndication(dissected.Payload)
		m.log.Info("received error indication from peer", "teid", ind.TEID)
	case pdu.MsgEndMarker:
		m.log.Warn("discarded PDU: end marker not supported")
	default:
		m.log.Error("discarded PDU: invalid message type for path management", "msg_type", dissected.Header.MessageType)
	}
}
