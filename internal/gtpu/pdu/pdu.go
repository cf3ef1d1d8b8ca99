// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package pdu implements the GTP-U v1 header codec (3GPP TS 29.281 section 5)
// plus the PDU session container extension header (3GPP TS 38.415 section
// 5.5.2), grounded on the byte-slice-builder style of
// _examples/AlohaLuo-gnbsim-backup/encoding/gtp/gtp.go and the constants in
// original_source/lib/gtpu/gtpu_pdu.h.
package pdu

import (
	"encoding/binary"
	"fmt"
)

// Message types (TS 29.281 table 6.1-1).
const (
	MsgEchoRequest                          = 1
	MsgEchoResponse                         = 2
	MsgErrorIndication                      = 26
	MsgSupportedExtensionHeadersNotification = 31
	MsgEndMarker                            = 254
	MsgTPDU                                 = 255
)

// Extension header types (TS 29.281 figure 5.2.1-3).
const (
	ExtNoMoreExtensionHeaders = 0x00
	ExtPDUSessionContainer    = 0x85
)

const (
	versionMask  = 0xe0
	versionShift = 5
	version1     = 0x01
	flagPT       = 0x10
	flagE        = 0x04
	flagS        = 0x02
	flagPN       = 0x01

	baseHeaderLen     = 8
	optionalHeaderLen = 4 // seq number + N-PDU number + next ext type
	maxExtensions     = 10
)

// Error is a sentinel codec error; Kind distinguishes the failure mode so
// callers can decide whether to drop silently, NACK, or log loudly (spec.md
// section 4 Edge cases).
type Error struct {
	Kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newErr(kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

const (
	KindTooShort            = "too_short"
	KindUnsupportedVersion  = "unsupported_version"
	KindUnsupportedFlag     = "unsupported_flag"
	KindUnknownMessageType  = "unknown_message_type"
	KindMalformedExtension  = "malformed_extension"
	KindUncomprehended      = "uncomprehended_extension"
)

// validMessageTypes is the message type set this dissector understands
// (spec.md section 4.1): T-PDU plus the path management messages this
// gNB core's GTP-U stack terminates.
var validMessageTypes = map[uint8]bool{
	MsgEchoRequest:                            true,
	MsgEchoResponse:                           true,
	MsgErrorIndication:                        true,
	MsgSupportedExtensionHeadersNotification: true,
	MsgEndMarker:                              true,
	MsgTPDU:                                   true,
}

// Header is the fixed + optional GTP-U v1 header.
type Header struct {
	PT          bool
	HasSeq      bool
	HasNPDU     bool
	HasExtHdr   bool
	MessageType uint8
	TEID        uint32
	SeqNumber   uint16
	NPDUNumber  uint8
	ExtHeaders  []ExtensionHeader
}

// ExtensionHeader is one link in the extension header chain.
type ExtensionHeader struct {
	Type    uint8
	Content []byte
}

// PDU is a fully dissected GTP-U v1 packet.
type PDU struct {
	Header  Header
	Payload []byte
}

// comprehension extracts the top two bits of an extension header type byte,
// per original_source's gtpu_comprehension: 0b10 and 0b11 mean the endpoint
// receiver must understand the extension, 0b00/0b01 mean it may be skipped.
func comprehension(extType uint8) uint8 {
	return (extType >> 6) & 0x3
}

func requiresComprehension(extType uint8) bool {
	c := comprehension(extType)
	return c == 0b10 || c == 0b11
}

// Dissect parses a raw GTP-U v1 datagram. On success, Payload is the T-PDU
// (or control-message body) with the header and any extension headers
// stripped off.
func Dissect(raw []byte) (PDU, error) {
	if len(raw) < baseHeaderLen {
		return PDU{}, newErr(KindTooShort, "gtpu: %d bytes shorter than base header (%d)", len(raw), baseHeaderLen)
	}

	flags := raw[0]
	if (flags&versionMask)>>versionShift != version1 {
		return PDU{}, newErr(KindUnsupportedVersion, "gtpu: unsupported version flags=0x%02x", flags)
	}

	var h Header
	h.PT = flags&flagPT != 0
	h.HasExtHdr = flags&flagE != 0
	h.HasSeq = flags&flagS != 0
	h.HasNPDU = flags&flagPN != 0
	h.MessageType = raw[1]

	if !h.PT {
		return PDU{}, newErr(KindUnsupportedFlag, "gtpu: protocol type 0 (GTP') unsupported")
	}
	if h.HasNPDU {
		return PDU{}, newErr(KindUnsupportedFlag, "gtpu: N-PDU number flag unsupported")
	}
	if !validMessageTypes[h.MessageType] {
		return PDU{}, newErr(KindUnknownMessageType, "gtpu: unknown message type %d", h.MessageType)
	}

	length := binary.BigEndian.Uint16(raw[2:4])
	h.TEID = binary.BigEndian.Uint32(raw[4:8])

	body := raw[baseHeaderLen:]
	if int(length) > len(body) {
		return PDU{}, newErr(KindTooShort, "gtpu: declared length %d exceeds remaining %d bytes", length, len(body))
	}
	body = body[:length]

	hasOptionalFields := h.HasExtHdr || h.HasSeq || h.HasNPDU
	if hasOptionalFields {
		if len(body) < optionalHeaderLen {
			return PDU{}, newErr(KindTooShort, "gtpu: optional header flags set but only %d bytes remain", len(body))
		}
		h.SeqNumber = binary.BigEndian.Uint16(body[0:2])
		h.NPDUNumber = body[2]
		nextExt := body[3]
		body = body[4:]

		for nextExt != ExtNoMoreExtensionHeaders {
			if len(h.ExtHeaders) >= maxExtensions {
				return PDU{}, newErr(KindMalformedExtension, "gtpu: extension header chain exceeds %d entries", maxExtensions)
			}
			if len(body) < 2 {
				return PDU{}, newErr(KindMalformedExtension, "gtpu: truncated extension header (type=0x%02x)", nextExt)
			}
			lengthUnits := body[0]
			if lengthUnits == 0 {
				return PDU{}, newErr(KindMalformedExtension, "gtpu: zero-length extension header (type=0x%02x)", nextExt)
			}
			total := int(lengthUnits) * 4
			if total < 2 || total > len(body) {
				return PDU{}, newErr(KindMalformedExtension, "gtpu: extension header length %d invalid (type=0x%02x)", total, nextExt)
			}
			content := body[1 : total-1]
			newNext := body[total-1]

			if nextExt != ExtPDUSessionContainer && requiresComprehension(nextExt) {
				return PDU{}, newErr(KindUncomprehended, "gtpu: unrecognised extension header 0x%02x requires comprehension", nextExt)
			}

			h.ExtHeaders = append(h.ExtHeaders, ExtensionHeader{Type: nextExt, Content: append([]byte(nil), content...)})
			body = body[total:]
			nextExt = newNext
		}
	}

	return PDU{Header: h, Payload: append([]byte(nil), body...)}, nil
}

// Write serialises a PDU back into wire bytes.
func (p PDU) Write() []byte {
	h := p.Header
	// This codec only ever emits GTP-U (never GTP'), so the protocol type
	// bit is always set regardless of h.PT (which Dissect instead uses to
	// reject an inbound GTP' packet).
	var flags uint8 = version1<<versionShift | flagPT
	hasOptional := h.HasExtHdr || h.HasSeq || h.HasNPDU || len(h.ExtHeaders) > 0
	if h.HasExtHdr || len(h.ExtHeaders) > 0 {
		flags |= flagE
	}
	if h.HasSeq {
		flags |= flagS
	}
	if h.HasNPDU {
		flags |= flagPN
	}

	var optional []byte
	if hasOptional {
		optional = make([]byte, 4)
		binary.BigEndian.PutUint16(optional[0:2], h.SeqNumber)
		optional[2] = h.NPDUNumber
		// optional[3] (next ext type) filled in below once we know the chain
	}

	var extBytes []byte
	for i, eh := range h.ExtHeaders {
		total := len(eh.Content) + 2
		paddedUnits := (total + 3) / 4
		paddedLen := paddedUnits * 4
		entry := make([]byte, paddedLen)
		entry[0] = uint8(paddedUnits)
		copy(entry[1:], eh.Content)
		if i+1 < len(h.ExtHeaders) {
			entry[paddedLen-1] = h.ExtHeaders[i+1].Type
		} else {
			entry[paddedLen-1] = ExtNoMoreExtensionHeaders
		}
		extBytes = append(extBytes, entry...)
	}
	if hasOptional {
		if len(h.ExtHeaders) > 0 {
			optional[3] = h.ExtHeaders[0].Type
		} else {
			optional[3] = ExtNoMoreExtensionHeaders
		}
	}

	payloadLen := len(optional) + len(extBytes) + len(p.Payload)
	out := make([]byte, baseHeaderLen, baseHeaderLen+payloadLen)
	out[0] = flags
	out[1] = h.MessageType
	binary.BigEndian.PutUint16(out[2:4], uint16(payloadLen))
	binary.BigEndian.PutUint32(out[4:8], h.TEID)
	out = append(out, optional...)
	out = append(out, extBytes...)
	out = append(out, p.Payload...)
	return out
}

// PDU type values for the PDU session container (TS 38.415 section 5.5.2).
const (
	PDUSessionTypeDL = 0
	PDUSessionTypeUL = 1
)

// PDUSessionInfo is the decoded content of the PDU session container
// extension header used to carry the QoS Flow Identifier end to end.
type PDUSessionInfo struct {
	Type uint8 // PDUSessionTypeDL or PDUSessionTypeUL
	QFI  uint8
}

// DecodePDUSessionContainer parses an ExtPDUSessionContainer's content.
func DecodePDUSessionContainer(content []byte) (PDUSessionInfo, error) {
	if len(content) < 2 {
		return PDUSessionInfo{}, newErr(KindMalformedExtension, "gtpu: PDU session container too short (%d bytes)", len(content))
	}
	return PDUSessionInfo{Type: content[0] >> 4, QFI: content[1] & 0x3f}, nil
}

// EncodePDUSessionContainer builds an ExtensionHeader carrying info.
func EncodePDUSessionContainer(info PDUSessionInfo) ExtensionHeader {
	return ExtensionHeader{
		Type:    ExtPDUSessionContainer,
		Content: []byte{info.Type << 4, info.QFI & 0x3f},
	}
}
