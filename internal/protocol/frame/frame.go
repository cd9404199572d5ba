package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/protocol"
)

const (
	HeaderLen        = 6
	MetadataLenSize  = 3
	LengthPrefixSize = 3
	StreamIDMask     = 0x7FFFFFFF

	// MaxFrameLength is the largest frame the 24-bit length prefix can carry.
	MaxFrameLength = 0xFFFFFF

	requestNSize  = 4
	errorCodeSize = 4
	typeShift     = 10
	flagsMask     = 0x03FF
)

var (
	ErrShortHeader   = errors.New("frame: short header")
	ErrShortMetadata = errors.New("frame: metadata length exceeds frame")
	ErrShortBody     = errors.New("frame: body shorter than type requires")
	ErrFrameTooLarge = errors.New("frame: frame too large")
)

type Type uint8

const (
	TypeReserved        Type = 0x00
	TypeSetup           Type = 0x01
	TypeLease           Type = 0x02
	TypeKeepalive       Type = 0x03
	TypeRequestResponse Type = 0x04
	TypeRequestFNF      Type = 0x05
	TypeRequestStream   Type = 0x06
	TypeRequestChannel  Type = 0x07
	TypeRequestN        Type = 0x08
	TypeCancel          Type = 0x09
	TypePayload         Type = 0x0A
	TypeError           Type = 0x0B
	TypeMetadataPush    Type = 0x0C
	TypeResume          Type = 0x0D
	TypeResumeOK        Type = 0x0E
	TypeExt             Type = 0x3F
)

var typeNames = map[Type]string{
	TypeReserved:        "RESERVED",
	TypeSetup:           "SETUP",
	TypeLease:           "LEASE",
	TypeKeepalive:       "KEEPALIVE",
	TypeRequestResponse: "REQUEST_RESPONSE",
	TypeRequestFNF:      "REQUEST_FNF",
	TypeRequestStream:   "REQUEST_STREAM",
	TypeRequestChannel:  "REQUEST_CHANNEL",
	TypeRequestN:        "REQUEST_N",
	TypeCancel:          "CANCEL",
	TypePayload:         "PAYLOAD",
	TypeError:           "ERROR",
	TypeMetadataPush:    "METADATA_PUSH",
	TypeResume:          "RESUME",
	TypeResumeOK:        "RESUME_OK",
	TypeExt:             "EXT",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
}

type Flags uint16

const (
	FlagIgnore   Flags = 0x200
	FlagMetadata Flags = 0x100
	FlagFollows  Flags = 0x80
	FlagComplete Flags = 0x40
	FlagNext     Flags = 0x20
)

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

func (f Flags) String() string {
	parts := make([]string, 0, 5)
	for _, fl := range []struct {
		f    Flags
		name string
	}{
		{FlagIgnore, "I"}, {FlagMetadata, "M"}, {FlagFollows, "F"}, {FlagComplete, "C"}, {FlagNext, "N"},
	} {
		if f.Has(fl.f) {
			parts = append(parts, fl.name)
		}
	}
	return strings.Join(parts, "|")
}

// Header is the fixed part shared by every frame.
type Header struct {
	StreamID uint32
	Type     Type
	Flags    Flags
}

func EncodeHeader(dst []byte, h Header) {
	binary.BigEndian.PutUint32(dst[0:4], h.StreamID&StreamIDMask)
	binary.BigEndian.PutUint16(dst[4:6], uint16(h.Type)<<typeShift|uint16(h.Flags&flagsMask))
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	tf := binary.BigEndian.Uint16(b[4:6])
	return Header{
		StreamID: binary.BigEndian.Uint32(b[0:4]) & StreamIDMask,
		Type:     Type(tf >> typeShift),
		Flags:    Flags(tf & flagsMask),
	}, nil
}

// Limits constrains inbound frame memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: MaxFrameLength}
}

// ReadFrame reads one length-prefixed frame into a buffer from alloc.
func ReadFrame(r io.Reader, alloc buffer.Allocator, limits Limits) (*buffer.Buf, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := int(prefix[0])<<16 | int(prefix[1])<<8 | int(prefix[2])
	if n < HeaderLen {
		return nil, ErrShortHeader
	}
	if limits.MaxFrameBytes > 0 && n > limits.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	fr := alloc.Allocate(n)
	if _, err := io.ReadFull(r, fr.Bytes()); err != nil {
		fr.Release()
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return fr, nil
}

// WriteFrame writes fr with its 3-byte length prefix.
func WriteFrame(w io.Writer, fr []byte) error {
	if len(fr) > MaxFrameLength {
		return ErrFrameTooLarge
	}
	if len(fr) < HeaderLen {
		return ErrShortHeader
	}
	prefix := [LengthPrefixSize]byte{byte(len(fr) >> 16), byte(len(fr) >> 8), byte(len(fr))}
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(fr)
	return err
}

// Dump renders a one-line summary for debug logs.
func Dump(b []byte) string {
	h, err := DecodeHeader(b)
	if err != nil {
		return fmt.Sprintf("frame(invalid: %v)", err)
	}
	return fmt.Sprintf("%s stream=%d flags=[%s] len=%d", h.Type, h.StreamID, h.Flags, len(b))
}

// WireError decodes an ERROR frame body into a protocol error.
func WireError(b []byte) (*protocol.Error, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Type != TypeError {
		return nil, protocol.ErrUnexpectedFrame
	}
	if len(b) < HeaderLen+errorCodeSize {
		return nil, ErrShortBody
	}
	code := protocol.ErrorCode(binary.BigEndian.Uint32(b[HeaderLen : HeaderLen+errorCodeSize]))
	return protocol.NewError(code, string(b[HeaderLen+errorCodeSize:])), nil
}
