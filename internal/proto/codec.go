package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed size[4] + type[1] + tag[2] prefix common to
// every 9P2000.L frame.
const HeaderSize = 4 + 1 + 2

const headerSize = HeaderSize

// Frame is one decoded message: its type byte, tag, and undecoded body. The
// session layer decodes the body lazily via DecodeBody so that a Tflush
// racing ahead of a slow request never waits on that request's parse.
type Frame struct {
	Type uint8
	Tag  uint16
	Body []byte
}

// Codec frames and unframes 9P2000.L messages over a stream. Msize bounds
// both the largest frame DecodeFrame accepts and the largest frame
// EncodeMessage will produce; it is updated once version negotiation
// completes.
type Codec struct {
	Msize uint32
}

// NewCodec returns a Codec bounded by the protocol minimum msize, suitable
// for use before Tversion has been processed.
func NewCodec() *Codec {
	return &Codec{Msize: MinMsize}
}

// ErrFrameTooLarge is returned by DecodeFrame when a frame's declared size
// exceeds the negotiated msize. Unlike a short read or a malformed header,
// this is recoverable: the frame's type and tag are already known (the
// header was read in full), and the oversize body is drained from r so the
// stream stays in sync, so the caller can reply Rlerror{EMSGSIZE} on the
// returned Frame's tag and keep the session open instead
// of treating it as a fatal transport error.
var ErrFrameTooLarge = fmt.Errorf("9p: frame exceeds negotiated msize")

// DecodeFrame reads exactly one framed message from r. It enforces the
// negotiated msize and rejects frames shorter than the header.
func (c *Codec) DecodeFrame(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	size := binary.LittleEndian.Uint32(hdr[0:4])
	if size < headerSize {
		return Frame{}, fmt.Errorf("9p: frame size %d smaller than header", size)
	}
	mtype := hdr[4]
	tag := binary.LittleEndian.Uint16(hdr[5:7])
	bodyLen := size - headerSize

	if c.Msize != 0 && size > c.Msize {
		if _, err := io.CopyN(io.Discard, r, int64(bodyLen)); err != nil {
			return Frame{}, err
		}
		return Frame{Type: mtype, Tag: tag}, ErrFrameTooLarge
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	return Frame{Type: mtype, Tag: tag, Body: body}, nil
}

// EncodeMessage frames an R-message with the given tag. Clamping read/write
// payloads is the dispatcher's job; a reply that, once encoded, would not
// fit in the negotiated msize is replaced by an Rlerror{EMSGSIZE} frame on
// the same tag, returned with a nil error.
func (c *Codec) EncodeMessage(tag uint16, msg RMessage) ([]byte, error) {
	body, err := EncodeBody(msg)
	if err != nil {
		return nil, err
	}
	total := headerSize + len(body)
	if c.Msize != 0 && uint32(total) > c.Msize {
		return c.EncodeError(tag, EMSGSIZE), nil
	}
	return frame(msg.rType(), tag, body), nil
}

// EncodeError frames an Rlerror reply carrying errno.
func (c *Codec) EncodeError(tag uint16, errno Errno) []byte {
	var ec encodeCursor
	ec.u32(uint32(errno))
	return frame(Rlerror, tag, ec.buf)
}

func frame(mtype uint8, tag uint16, body []byte) []byte {
	out := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(headerSize+len(body)))
	out[4] = mtype
	binary.LittleEndian.PutUint16(out[5:7], tag)
	copy(out[7:], body)
	return out
}

// MaxReadCount returns the largest Rread data payload that fits within
// msize, used to clamp an oversized Tread.count.
func (c *Codec) MaxReadCount() uint32 {
	// Rread body is a 4-byte data-length prefix followed by the data.
	const rreadOverhead = headerSize + 4
	if c.Msize <= rreadOverhead {
		return 0
	}
	return c.Msize - rreadOverhead
}

// MaxWriteCount returns the largest Twrite data payload a Twrite of this
// msize could legally carry, used to validate an incoming Twrite.
func (c *Codec) MaxWriteCount() uint32 {
	// Twrite body is fid(4) + offset(8) + a 4-byte data-length prefix.
	const twriteOverhead = headerSize + 4 + 8 + 4
	if c.Msize <= twriteOverhead {
		return 0
	}
	return c.Msize - twriteOverhead
}
