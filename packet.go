package minibgp

import (
	"encoding/binary"
	"net/netip"

	"github.com/pkg/errors"
)

// MessageType is the type code of a BGP message.
type MessageType uint8

const (
	MessageTypeOpen      MessageType = 1
	MessageTypeKeepAlive MessageType = 4
)

func (m MessageType) String() string {
	switch m {
	case MessageTypeOpen:
		return "open"
	case MessageTypeKeepAlive:
		return "keepAlive"
	default:
		return "unknown"
	}
}

func newMessageType(b uint8) (MessageType, error) {
	switch MessageType(b) {
	case MessageTypeOpen, MessageTypeKeepAlive:
		return MessageType(b), nil
	default:
		return 0, newConversionError(errors.Errorf(
			"unsupported message type: %d", b))
	}
}

const (
	markerLength       = 16
	headerLength       = 19
	openMessageLength  = 29
	maxMessageLength   = 4096
	lengthFieldOffset  = markerLength
	typeFieldOffset    = markerLength + 2
	openOptParamOffset = openMessageLength - 1
)

// Message is a BGP message supported by this package, either *OpenMessage or
// *KeepAliveMessage.
type Message interface {
	MessageType() MessageType
	Encode() []byte
}

// Header is the fixed-size header preceding every BGP message.
type Header struct {
	// Length is the total length of the message including the header.
	// Decoding rejects values outside 19..4096.
	Length uint16
	Type   MessageType
}

// DecodeHeader decodes the first 19 bytes of b. The marker is not validated.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerLength {
		return Header{}, newConversionError(errors.Errorf(
			"header too short: %d bytes", len(b)))
	}
	length := binary.BigEndian.Uint16(b[lengthFieldOffset:])
	if length < headerLength || length > maxMessageLength {
		return Header{}, newConversionError(errors.Errorf(
			"bad message length: %d", length))
	}
	t, err := newMessageType(b[typeFieldOffset])
	if err != nil {
		return Header{}, err
	}
	return Header{
		Length: length,
		Type:   t,
	}, nil
}

// Encode returns the wire representation of h.
func (h Header) Encode() []byte {
	b := make([]byte, headerLength)
	for i := 0; i < markerLength; i++ {
		b[i] = 0xFF
	}
	binary.BigEndian.PutUint16(b[lengthFieldOffset:], h.Length)
	b[typeFieldOffset] = uint8(h.Type)
	return b
}

func prependHeader(m []byte, t MessageType) []byte {
	h := Header{
		Length: uint16(len(m) + headerLength),
		Type:   t,
	}
	return append(h.Encode(), m...)
}

// decodeHeaderFor decodes the header of a complete message in b and verifies
// it is of type t and that its length field matches len(b).
func decodeHeaderFor(b []byte, t MessageType) (Header, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, err
	}
	if h.Type != t {
		return Header{}, newConversionError(errors.Errorf(
			"expected %s message, got: %s", t, h.Type))
	}
	if int(h.Length) != len(b) {
		return Header{}, newConversionError(errors.Errorf(
			"header length %d does not match message length %d", h.Length, len(b)))
	}
	return h, nil
}

// OpenMessage is an OPEN message without optional parameters.
type OpenMessage struct {
	Version  Version
	ASN      ASN
	HoldTime HoldTime
	// BGPIdentifier is the IPv4 router ID of the sender.
	BGPIdentifier netip.Addr
}

// NewOpenMessage returns an OpenMessage with DefaultVersion.
func NewOpenMessage(asn ASN, holdTime HoldTime, routerID netip.Addr) *OpenMessage {
	return &OpenMessage{
		Version:       DefaultVersion,
		ASN:           asn,
		HoldTime:      holdTime,
		BGPIdentifier: routerID,
	}
}

func (o *OpenMessage) MessageType() MessageType {
	return MessageTypeOpen
}

// DecodeOpenMessage decodes a complete OPEN message including its header.
// Optional parameters sent by the peer are bounds checked and skipped.
func DecodeOpenMessage(b []byte) (*OpenMessage, error) {
	if _, err := decodeHeaderFor(b, MessageTypeOpen); err != nil {
		return nil, err
	}
	if len(b) < openMessageLength {
		return nil, newConversionError(errors.Errorf(
			"open message too short: %d bytes", len(b)))
	}
	version, err := NewVersion(b[headerLength])
	if err != nil {
		return nil, err
	}
	optionalParamsLen := int(b[openOptParamOffset])
	if optionalParamsLen != len(b)-openMessageLength {
		return nil, newConversionError(errors.Errorf(
			"optional parameters length %d does not match remaining %d bytes",
			optionalParamsLen, len(b)-openMessageLength))
	}
	var id [4]byte
	copy(id[:], b[headerLength+5:headerLength+9])
	return &OpenMessage{
		Version:       version,
		ASN:           ASN(binary.BigEndian.Uint16(b[headerLength+1:])),
		HoldTime:      HoldTime(binary.BigEndian.Uint16(b[headerLength+3:])),
		BGPIdentifier: netip.AddrFrom4(id),
	}, nil
}

// Encode returns the 29-byte wire representation of o. A BGPIdentifier that
// is not IPv4 is encoded as 0.0.0.0.
func (o *OpenMessage) Encode() []byte {
	b := make([]byte, openMessageLength-headerLength)
	b[0] = uint8(o.Version)
	binary.BigEndian.PutUint16(b[1:3], uint16(o.ASN))
	binary.BigEndian.PutUint16(b[3:5], uint16(o.HoldTime))
	if o.BGPIdentifier.Is4() {
		id := o.BGPIdentifier.As4()
		copy(b[5:9], id[:])
	}
	// optional parameters length
	b[9] = 0
	return prependHeader(b, MessageTypeOpen)
}

// KeepAliveMessage is a KEEPALIVE message, which consists of a header only.
type KeepAliveMessage struct{}

func (k *KeepAliveMessage) MessageType() MessageType {
	return MessageTypeKeepAlive
}

// DecodeKeepAliveMessage decodes a complete KEEPALIVE message.
func DecodeKeepAliveMessage(b []byte) (*KeepAliveMessage, error) {
	if _, err := decodeHeaderFor(b, MessageTypeKeepAlive); err != nil {
		return nil, err
	}
	if len(b) != headerLength {
		return nil, newConversionError(errors.Errorf(
			"keepAlive message has a body of %d bytes", len(b)-headerLength))
	}
	return &KeepAliveMessage{}, nil
}

// Encode returns the 19-byte wire representation of k.
func (k *KeepAliveMessage) Encode() []byte {
	return prependHeader(nil, MessageTypeKeepAlive)
}

// DecodeMessage decodes the header found in the first 19 bytes of b and then
// decodes all of b with the decoder for the header's message type.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < headerLength {
		return nil, newConversionError(errors.Errorf(
			"message shorter than header: %d bytes", len(b)))
	}
	h, err := DecodeHeader(b[:headerLength])
	if err != nil {
		return nil, err
	}
	switch h.Type {
	case MessageTypeOpen:
		o, err := DecodeOpenMessage(b)
		if err != nil {
			return nil, err
		}
		return o, nil
	case MessageTypeKeepAlive:
		k, err := DecodeKeepAliveMessage(b)
		if err != nil {
			return nil, err
		}
		return k, nil
	default:
		return nil, newConversionError(errors.Errorf(
			"unsupported message type: %d", h.Type))
	}
}

// EncodeMessage returns the wire representation of m.
func EncodeMessage(m Message) []byte {
	return m.Encode()
}
