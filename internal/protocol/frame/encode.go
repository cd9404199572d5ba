package frame

import (
	"encoding/binary"

	"github.com/danmuck/rsockcore/internal/buffer"
	"github.com/danmuck/rsockcore/internal/protocol"
)

// Size is the encoded length of a frame of type t with the given body sizes.
func Size(t Type, hasMetadata bool, metadataLen, dataLen int) int {
	n := bodyOffset(t) + dataLen
	if hasMetadata {
		n += MetadataLenSize + metadataLen
	}
	return n
}

func bodyOffset(t Type) int {
	switch t {
	case TypeRequestStream, TypeRequestChannel:
		return HeaderLen + requestNSize
	case TypeError:
		return HeaderLen + errorCodeSize
	default:
		return HeaderLen
	}
}

// Encode builds a REQUEST_RESPONSE, REQUEST_FNF or PAYLOAD frame. The
// metadata flag is derived from hasMetadata; all other flags come from h.
func Encode(alloc buffer.Allocator, h Header, hasMetadata bool, metadata, data []byte) (*buffer.Buf, error) {
	switch h.Type {
	case TypeRequestResponse, TypeRequestFNF, TypePayload:
	default:
		return nil, protocol.ErrUnexpectedFrame
	}
	if h.StreamID == 0 {
		return nil, protocol.ErrInvalidStreamID
	}
	size := Size(h.Type, hasMetadata, len(metadata), len(data))
	if size > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}
	if hasMetadata {
		h.Flags |= FlagMetadata
	} else {
		h.Flags &^= FlagMetadata
	}

	fr := alloc.Allocate(size)
	b := fr.Bytes()
	EncodeHeader(b, h)
	off := HeaderLen
	if hasMetadata {
		putUint24(b[off:], len(metadata))
		off += MetadataLenSize
		off += copy(b[off:], metadata)
	}
	copy(b[off:], data)
	return fr, nil
}

func EncodeRequestResponse(alloc buffer.Allocator, streamID uint32, follows, hasMetadata bool, metadata, data []byte) (*buffer.Buf, error) {
	h := Header{StreamID: streamID, Type: TypeRequestResponse}
	if follows {
		h.Flags |= FlagFollows
	}
	return Encode(alloc, h, hasMetadata, metadata, data)
}

// EncodePayload builds a PAYLOAD frame; flags carries NEXT, COMPLETE and FOLLOWS.
func EncodePayload(alloc buffer.Allocator, streamID uint32, flags Flags, hasMetadata bool, metadata, data []byte) (*buffer.Buf, error) {
	return Encode(alloc, Header{StreamID: streamID, Type: TypePayload, Flags: flags}, hasMetadata, metadata, data)
}

func EncodeCancel(alloc buffer.Allocator, streamID uint32) *buffer.Buf {
	fr := alloc.Allocate(HeaderLen)
	EncodeHeader(fr.Bytes(), Header{StreamID: streamID, Type: TypeCancel})
	return fr
}

// EncodeError builds an ERROR frame, truncating msg to fit one frame.
func EncodeError(alloc buffer.Allocator, streamID uint32, code protocol.ErrorCode, msg string) *buffer.Buf {
	limit := MaxFrameLength - HeaderLen - errorCodeSize
	if len(msg) > limit {
		msg = msg[:limit]
	}
	fr := alloc.Allocate(HeaderLen + errorCodeSize + len(msg))
	b := fr.Bytes()
	EncodeHeader(b, Header{StreamID: streamID, Type: TypeError})
	binary.BigEndian.PutUint32(b[HeaderLen:], uint32(code))
	copy(b[HeaderLen+errorCodeSize:], msg)
	return fr
}

// Metadata returns the metadata bytes of b and whether the metadata flag is set.
func Metadata(b []byte) ([]byte, bool, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, false, err
	}
	if !h.Flags.Has(FlagMetadata) {
		return nil, false, nil
	}
	off := bodyOffset(h.Type)
	if len(b) < off+MetadataLenSize {
		return nil, true, ErrShortMetadata
	}
	n := uint24(b[off:])
	off += MetadataLenSize
	if len(b) < off+n {
		return nil, true, ErrShortMetadata
	}
	return b[off : off+n], true, nil
}

// Data returns the data bytes of b, after any metadata.
func Data(b []byte) ([]byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	off := bodyOffset(h.Type)
	if len(b) < off {
		return nil, ErrShortBody
	}
	if h.Flags.Has(FlagMetadata) {
		if len(b) < off+MetadataLenSize {
			return nil, ErrShortMetadata
		}
		n := uint24(b[off:])
		off += MetadataLenSize + n
		if len(b) < off {
			return nil, ErrShortMetadata
		}
	}
	return b[off:], nil
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
