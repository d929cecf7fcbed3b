// Package buffer is the RFB wire codec: buffered, big-endian primitive
// reads and writes over a byte stream, plus the length-prefixed strings,
// version banners, rectangle headers and pixel-format blobs the protocol
// is built from.
package buffer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/kamrankamilli/gsvnc/pkg/rfb/types"
)

// maxStringLen bounds length-prefixed string reads so a hostile or
// confused peer can't make us allocate gigabytes from a 32-bit length
// field. Individual call sites may pass a tighter bound.
const maxStringLen = 1 << 24

// Codec wraps a stream in buffered big-endian primitive I/O. Reads block
// until satisfied or the stream ends. Writes are synchronous and take
// writeMu for the duration of one logical message, so two goroutines
// writing concurrently (the dispatch loop sending Bell/ServerCutText, the
// scheduler sending FramebufferUpdate) never interleave their bytes.
type Codec struct {
	stream io.ReadWriteCloser
	br     *bufio.Reader
	bw     *bufio.Writer

	writeMu sync.Mutex
	closeMu sync.Once
	closed  chan struct{}
}

// NewCodec wraps stream for RFB framing.
func NewCodec(stream io.ReadWriteCloser) *Codec {
	return &Codec{
		stream: stream,
		br:     bufio.NewReader(stream),
		bw:     bufio.NewWriterSize(stream, 64<<10),
		closed: make(chan struct{}),
	}
}

// Close is idempotent. It drops the underlying stream, which unblocks any
// goroutine blocked in a Read* call with an error.
func (c *Codec) Close() error {
	var err error
	c.closeMu.Do(func() {
		close(c.closed)
		err = c.stream.Close()
	})
	return err
}

// IsClosed reports whether Close has run.
func (c *Codec) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// --- reads (never take writeMu; reads and writes are independent streams) ---

// ReadByte reads a single byte.
func (c *Codec) ReadByte() (byte, error) { return c.br.ReadByte() }

// ReadUint16 reads a big-endian uint16.
func (c *Codec) ReadUint16() (uint16, error) {
	var v uint16
	err := binary.Read(c.br, binary.BigEndian, &v)
	return v, err
}

// ReadUint32 reads a big-endian uint32.
func (c *Codec) ReadUint32() (uint32, error) {
	var v uint32
	err := binary.Read(c.br, binary.BigEndian, &v)
	return v, err
}

// ReadInt32 reads a big-endian int32 (used for signed encoding tags).
func (c *Codec) ReadInt32() (int32, error) {
	var v int32
	err := binary.Read(c.br, binary.BigEndian, &v)
	return v, err
}

// ReadFull reads exactly len(buf) bytes.
func (c *Codec) ReadFull(buf []byte) error {
	_, err := io.ReadFull(c.br, buf)
	return err
}

// SkipPadding discards n bytes.
func (c *Codec) SkipPadding(n int) error {
	if n == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, c.br, int64(n))
	return err
}

// ReadVersion reads the 12-byte "RFB xxx.yyy\n" banner and returns
// (major, minor).
func (c *Codec) ReadVersion() (major, minor int, err error) {
	var buf [12]byte
	if err = c.ReadFull(buf[:]); err != nil {
		return 0, 0, err
	}
	n, scanErr := fmt.Sscanf(string(buf[:]), "RFB %03d.%03d\n", &major, &minor)
	if scanErr != nil || n != 2 {
		return 0, 0, fmt.Errorf("malformed version banner %q", buf[:])
	}
	return major, minor, nil
}

// ReadString reads a 32-bit big-endian length prefix followed by that many
// bytes of UTF-8, rejecting lengths over max (or maxStringLen if max<=0).
func (c *Codec) ReadString(max uint32) (string, error) {
	if max == 0 {
		max = maxStringLen
	}
	n, err := c.ReadUint32()
	if err != nil {
		return "", err
	}
	if n > max {
		return "", fmt.Errorf("string length %d exceeds bound %d", n, max)
	}
	buf := make([]byte, n)
	if err := c.ReadFull(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadRectangle reads the four 16-bit big-endian geometry fields.
func (c *Codec) ReadRectangle() (types.Rectangle, error) {
	var r types.Rectangle
	var err error
	if r.X, err = c.ReadUint16(); err != nil {
		return r, err
	}
	if r.Y, err = c.ReadUint16(); err != nil {
		return r, err
	}
	if r.Width, err = c.ReadUint16(); err != nil {
		return r, err
	}
	if r.Height, err = c.ReadUint16(); err != nil {
		return r, err
	}
	return r, nil
}

// ReadPixelFormat decodes the 16-byte PIXEL_FORMAT blob.
func (c *Codec) ReadPixelFormat() (*types.PixelFormat, error) {
	var buf [16]byte
	if err := c.ReadFull(buf[:]); err != nil {
		return nil, err
	}
	return DecodePixelFormat(buf[:]), nil
}

// DecodePixelFormat parses a 16-byte PIXEL_FORMAT blob already in hand.
func DecodePixelFormat(buf []byte) *types.PixelFormat {
	return &types.PixelFormat{
		BPP:        buf[0],
		Depth:      buf[1],
		BigEndian:  buf[2],
		TrueColour: buf[3],
		RedMax:     binary.BigEndian.Uint16(buf[4:6]),
		GreenMax:   binary.BigEndian.Uint16(buf[6:8]),
		BlueMax:    binary.BigEndian.Uint16(buf[8:10]),
		RedShift:   buf[10],
		GreenShift: buf[11],
		BlueShift:  buf[12],
	}
}

// EncodePixelFormat serializes a PixelFormat into its 16-byte wire blob.
func EncodePixelFormat(f *types.PixelFormat) []byte {
	buf := make([]byte, 16)
	buf[0] = f.BPP
	buf[1] = f.Depth
	buf[2] = f.BigEndian
	buf[3] = f.TrueColour
	binary.BigEndian.PutUint16(buf[4:6], f.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], f.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], f.BlueMax)
	buf[10] = f.RedShift
	buf[11] = f.GreenShift
	buf[12] = f.BlueShift
	// buf[13:16] left zero: padding
	return buf
}

// --- writes (synchronous, under writeMu) ---

// BeginWrite acquires the write lock for a multi-call outbound message and
// returns a writer to use for its duration; call the returned function to
// flush and release the lock. Used by callers (session engine) that build
// a message out of several Write* calls that must not interleave with any
// other goroutine's writes.
func (c *Codec) BeginWrite() (w io.Writer, end func() error) {
	c.writeMu.Lock()
	return c.bw, func() error {
		defer c.writeMu.Unlock()
		return c.bw.Flush()
	}
}

// WriteLocked writes buf as a single atomic message.
func (c *Codec) WriteLocked(buf []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.bw.Write(buf); err != nil {
		return err
	}
	return c.bw.Flush()
}

// WriteVersion writes the 12-byte "RFB xxx.yyy\n" banner, under writeMu.
func (c *Codec) WriteVersion(major, minor int) error {
	return c.WriteLocked([]byte(fmt.Sprintf("RFB %03d.%03d\n", major, minor)))
}

// Helpers below operate on an io.Writer handed out by BeginWrite, so they
// compose into a single locked message without re-taking writeMu.

// WriteByte writes one byte to w.
func WriteByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// WriteUint16 writes a big-endian uint16 to w.
func WriteUint16(w io.Writer, v uint16) error {
	return binary.Write(w, binary.BigEndian, v)
}

// WriteUint32 writes a big-endian uint32 to w.
func WriteUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.BigEndian, v)
}

// WriteInt32 writes a big-endian int32 to w (signed encoding tags).
func WriteInt32(w io.Writer, v int32) error {
	return binary.Write(w, binary.BigEndian, v)
}

// WriteString writes a 32-bit big-endian length prefix followed by s.
func WriteString(w io.Writer, s string) error {
	if err := WriteUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteRectangle writes the four 16-bit geometry fields.
func WriteRectangle(w io.Writer, r types.Rectangle) error {
	for _, v := range [4]uint16{r.X, r.Y, r.Width, r.Height} {
		if err := WriteUint16(w, v); err != nil {
			return err
		}
	}
	return nil
}

// WritePadding writes n zero bytes to w.
func WritePadding(w io.Writer, n int) error {
	if n == 0 {
		return nil
	}
	_, err := w.Write(make([]byte, n))
	return err
}

// WritePixelFormat writes the 16-byte PIXEL_FORMAT blob.
func WritePixelFormat(w io.Writer, f *types.PixelFormat) error {
	_, err := w.Write(EncodePixelFormat(f))
	return err
}
