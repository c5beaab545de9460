package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// HeaderSize is the size of a request header:
	// payload_size(4) | command_kind(2) | request_id(4)
	HeaderSize = 10
	// ResponseHeaderSize is the size of a response header:
	// payload_size(4) | command_kind(2) | request_id(4) | status(1)
	ResponseHeaderSize = HeaderSize + 1
	// DefaultMaxPayloadSize is the largest payload accepted by default (64 MiB)
	DefaultMaxPayloadSize = 64 << 20
)

var (
	ErrShortHeader      = errors.New("proto: short header")
	ErrMalformedPayload = errors.New("proto: malformed payload")
	ErrPayloadTooLarge  = errors.New("proto: payload too large")
)

// --------------------------------------------------------------------------
// Command Kinds
// --------------------------------------------------------------------------

// Kind identifies the operation carried by a frame
type Kind uint16

const (
	KindSet    Kind = 1 // keylen(4) | valuelen(4) | key | value
	KindGet    Kind = 2 // keylen(4) | key
	KindDelete Kind = 3 // keylen(4) | key
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "SET"
	case KindGet:
		return "GET"
	case KindDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

// Status is the outcome of a command, carried in every response
type Status uint8

const (
	StatusOK       Status = 0 // payload holds the value
	StatusNotFound Status = 1 // payload is empty
	StatusError    Status = 2 // payload holds the error message
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NotFound"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// --------------------------------------------------------------------------
// Request Frames
// --------------------------------------------------------------------------

// Header is the fixed-size prefix of every request frame
type Header struct {
	PayloadSize uint32
	Kind        Kind
	RequestID   uint32
}

// FrameSize returns the size of the whole frame described by h
func (h Header) FrameSize() int {
	return HeaderSize + int(h.PayloadSize)
}

// ParseHeader decodes the header at the start of b.
// b may hold more than a header, only the first HeaderSize bytes are read.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		PayloadSize: binary.LittleEndian.Uint32(b[0:4]),
		Kind:        Kind(binary.LittleEndian.Uint16(b[4:6])),
		RequestID:   binary.LittleEndian.Uint32(b[6:10]),
	}, nil
}

// Encode writes h into the first HeaderSize bytes of b
func (h Header) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.PayloadSize)
	binary.LittleEndian.PutUint16(b[4:6], uint16(h.Kind))
	binary.LittleEndian.PutUint32(b[6:10], h.RequestID)
}

// EncodeFrame builds a complete request frame
func EncodeFrame(kind Kind, requestID uint32, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	Header{
		PayloadSize: uint32(len(payload)),
		Kind:        kind,
		RequestID:   requestID,
	}.Encode(frame)
	copy(frame[HeaderSize:], payload)
	return frame
}

// --------------------------------------------------------------------------
// Payloads
// --------------------------------------------------------------------------

// EncodeSet builds a SET payload: keylen(4) | valuelen(4) | key | value
func EncodeSet(key, value []byte) []byte {
	payload := make([]byte, 8+len(key)+len(value))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(key)))
	binary.LittleEndian.PutUint32(payload[4:8], uint32(len(value)))
	copy(payload[8:], key)
	copy(payload[8+len(key):], value)
	return payload
}

// DecodeSet splits a SET payload into key and value.
// The returned slices alias payload.
func DecodeSet(payload []byte) (key, value []byte, err error) {
	if len(payload) < 8 {
		return nil, nil, fmt.Errorf("%w: SET payload of %d bytes", ErrMalformedPayload, len(payload))
	}
	keyLen := uint64(binary.LittleEndian.Uint32(payload[0:4]))
	valueLen := uint64(binary.LittleEndian.Uint32(payload[4:8]))

	if 8+keyLen+valueLen != uint64(len(payload)) {
		return nil, nil, fmt.Errorf("%w: SET lengths %d+%d do not match payload of %d bytes",
			ErrMalformedPayload, keyLen, valueLen, len(payload))
	}

	key = payload[8 : 8+keyLen]
	value = payload[8+keyLen:]
	return key, value, nil
}

// EncodeKey builds a GET or DELETE payload: keylen(4) | key
func EncodeKey(key []byte) []byte {
	payload := make([]byte, 4+len(key))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(key)))
	copy(payload[4:], key)
	return payload
}

// DecodeKey extracts the key of a GET or DELETE payload.
// The returned slice aliases payload.
func DecodeKey(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: key payload of %d bytes", ErrMalformedPayload, len(payload))
	}
	keyLen := uint64(binary.LittleEndian.Uint32(payload[0:4]))

	if 4+keyLen != uint64(len(payload)) {
		return nil, fmt.Errorf("%w: key length %d does not match payload of %d bytes",
			ErrMalformedPayload, keyLen, len(payload))
	}
	return payload[4:], nil
}

// --------------------------------------------------------------------------
// Response Frames
// --------------------------------------------------------------------------

// Response is a decoded response frame
type Response struct {
	Kind      Kind
	RequestID uint32
	Status    Status
	Payload   []byte
}

// EncodeResponse builds a complete response frame.
// The header mirrors the request header and appends the status byte.
func EncodeResponse(kind Kind, requestID uint32, status Status, payload []byte) []byte {
	frame := make([]byte, ResponseHeaderSize+len(payload))
	Header{
		PayloadSize: uint32(len(payload)),
		Kind:        kind,
		RequestID:   requestID,
	}.Encode(frame)
	frame[HeaderSize] = byte(status)
	copy(frame[ResponseHeaderSize:], payload)
	return frame
}

// ParseResponseHeader decodes the header at the start of b
func ParseResponseHeader(b []byte) (Header, Status, error) {
	if len(b) < ResponseHeaderSize {
		return Header{}, 0, ErrShortHeader
	}
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, 0, err
	}
	return h, Status(b[HeaderSize]), nil
}

// ReadResponse reads exactly one response frame from r.
// Payloads larger than maxPayload are rejected (0 = DefaultMaxPayloadSize).
func ReadResponse(r io.Reader, maxPayload uint32) (Response, error) {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayloadSize
	}

	var header [ResponseHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Response{}, err
	}

	h, status, err := ParseResponseHeader(header[:])
	if err != nil {
		return Response{}, err
	}
	if h.PayloadSize > maxPayload {
		return Response{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadSize, maxPayload)
	}

	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Response{}, err
	}

	return Response{
		Kind:      h.Kind,
		RequestID: h.RequestID,
		Status:    status,
		Payload:   payload,
	}, nil
}

// CheckLen reports whether n bytes fit a 32-bit length prefix
func CheckLen(n int) bool {
	return uint64(n) <= math.MaxUint32
}
