package proto

import (
	"encoding/binary"
	"fmt"
)

// decodeCursor is a read cursor over a message body. 9P encodes every
// multi-byte integer little-endian, strings as a 2-byte length prefix
// followed by raw UTF-8 bytes, and opaque data as a 4-byte length prefix;
// none of it is XDR, so encoding/decoding is hand-rolled rather than
// reflection-driven (see DESIGN.md for why no XDR library is used here).
type decodeCursor struct {
	buf []byte
	off int
}

func newDecodeCursor(buf []byte) *decodeCursor {
	return &decodeCursor{buf: buf}
}

// errShortBody is returned whenever the cursor runs past the end of the
// buffer decoding a fixed or variable-length field.
var errShortBody = fmt.Errorf("9p: truncated message body")

func (c *decodeCursor) need(n int) error {
	if c.off+n > len(c.buf) {
		return errShortBody
	}
	return nil
}

func (c *decodeCursor) u8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *decodeCursor) u16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

func (c *decodeCursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *decodeCursor) u64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// str decodes a 2-byte-length-prefixed string. The protocol is
// byte-transparent on names: invalid UTF-8 is not rejected, it is simply
// returned as-is.
func (c *decodeCursor) str() (string, error) {
	n, err := c.u16()
	if err != nil {
		return "", err
	}
	if err := c.need(int(n)); err != nil {
		return "", err
	}
	s := string(c.buf[c.off : c.off+int(n)])
	c.off += int(n)
	return s, nil
}

// data decodes a 4-byte-length-prefixed opaque byte blob.
func (c *decodeCursor) data() ([]byte, error) {
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	if err := c.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, c.buf[c.off:c.off+int(n)])
	c.off += int(n)
	return b, nil
}

func (c *decodeCursor) qid() (Qid, error) {
	var q Qid
	t, err := c.u8()
	if err != nil {
		return q, err
	}
	v, err := c.u32()
	if err != nil {
		return q, err
	}
	p, err := c.u64()
	if err != nil {
		return q, err
	}
	q.Type, q.Version, q.Path = t, v, p
	return q, nil
}

// strList decodes a 2-byte count followed by that many length-prefixed
// strings, used for Twalk's wname array. An empty list decodes as nil.
func (c *decodeCursor) strList() ([]string, error) {
	n, err := c.u16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := range out {
		out[i], err = c.str()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// remaining reports how many bytes are left unconsumed; callers use this
// to reject trailing bytes after a fully-parsed body.
func (c *decodeCursor) remaining() int {
	return len(c.buf) - c.off
}

// encodeCursor accumulates an encoded message body.
type encodeCursor struct {
	buf []byte
}

func (c *encodeCursor) u8(v uint8) {
	c.buf = append(c.buf, v)
}

func (c *encodeCursor) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	c.buf = append(c.buf, b[:]...)
}

func (c *encodeCursor) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.buf = append(c.buf, b[:]...)
}

func (c *encodeCursor) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	c.buf = append(c.buf, b[:]...)
}

func (c *encodeCursor) str(s string) {
	c.u16(uint16(len(s)))
	c.buf = append(c.buf, s...)
}

func (c *encodeCursor) data(b []byte) {
	c.u32(uint32(len(b)))
	c.buf = append(c.buf, b...)
}

func (c *encodeCursor) qid(q Qid) {
	c.u8(q.Type)
	c.u32(q.Version)
	c.u64(q.Path)
}

func (c *encodeCursor) strList(ss []string) {
	c.u16(uint16(len(ss)))
	for _, s := range ss {
		c.str(s)
	}
}

func (c *encodeCursor) qidList(qs []Qid) {
	c.u16(uint16(len(qs)))
	for _, q := range qs {
		c.qid(q)
	}
}
