// Package wire implements the binary packet codec shared by every opcode in
// the voice/sound protocol (spec §4.A, §6). All multi-byte integers are
// network byte order. Every packet begins with a 1-byte opcode and a 4-byte
// client slot; the remainder is opcode-specific.
package wire

import (
	"encoding/binary"

	"bken/server/internal/verr"
)

// IdentityLen is the fixed width of an identity block on the wire.
const IdentityLen = 32

// HeaderLen is the length of the common <op:1><slot:4> prefix.
const HeaderLen = 5

// Op is a single wire opcode.
type Op byte

// Client → server command opcodes (spec §6).
const (
	OpSoundAdd       Op = 0x10
	OpSoundPlay      Op = 0x11
	OpSoundList      Op = 0x12
	OpSoundDelete    Op = 0x13
	OpSoundRename    Op = 0x14
	OpSoundShare     Op = 0x15
	OpShareAccept    Op = 0x16
	OpShareReject    Op = 0x17
	OpSoundStop      Op = 0x18
	OpPlaylistCreate Op = 0x19
	OpPlaylistDelete Op = 0x1A
	OpPlaylistList   Op = 0x1B
	OpPlaylistAdd    Op = 0x1C
	OpPlaylistRemove Op = 0x1D
	OpPlaylistReorder Op = 0x1E
	OpPlaylistPlay   Op = 0x1F
	OpCategoriesAlias Op = 0x20 // NB: shares numeric value with response Success (direction distinguishes them)
	OpSetVisibility  Op = 0x21
	OpPublicList     Op = 0x22
	OpPublicAdd      Op = 0x23
	OpPending        Op = 0x24
	OpPlaylistPublicList Op = 0x25
	OpPlaylistSetVisibility Op = 0x26
	OpPlaylistPublicShow Op = 0x27
	OpRegister       Op = 0x30
	OpMenuGet        Op = 0x32
	OpMenuPlay       Op = 0x33
	OpMenuData       Op = 0x34 // client->server request; numerically shared with the response below
	OpMenuNavigate   Op = 0x35
	OpPlayByID       Op = 0x36
	OpQuickLookup    Op = 0x50
)

// Server → client response opcodes.
const (
	RespSuccess      Op = 0x20
	RespError        Op = 0x21
	RespList         Op = 0x22
	RespShareRequest Op = 0x23
	RespProgress     Op = 0x24
	RespRegisterCode Op = 0x31
	RespMenuData     Op = 0x34
	RespQuickFound   Op = 0x51
	RespQuickNotFound Op = 0x52
)

// AudioRelay is the outbound-only opcode shared with the voice range.
const AudioRelay Op = 0x40

// Reader parses a single packet: Header consumes the common prefix, after
// which the field accessors read the payload. Every accessor fails with
// verr.MalformedPacket if the declared length would overrun the remaining
// bytes.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf (the full datagram, header included).
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Header parses the common <op:1><slot:4> prefix.
func (r *Reader) Header() (op Op, slot uint32, err error) {
	if len(r.buf) < HeaderLen {
		return 0, 0, verr.New(verr.MalformedPacket, "packet shorter than header")
	}
	op = Op(r.buf[0])
	slot = binary.BigEndian.Uint32(r.buf[1:5])
	r.pos = HeaderLen
	return op, slot, nil
}

func (r *Reader) remaining() int { return len(r.buf) - r.pos }

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, verr.New(verr.MalformedPacket, "truncated byte field")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Uint16 reads a big-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, verr.New(verr.MalformedPacket, "truncated uint16 field")
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, verr.New(verr.MalformedPacket, "truncated uint32 field")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// Int32 reads a big-endian signed int32 (used for signed menu identifiers).
func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// Identity reads a fixed 32-byte identity block, trimming trailing NULs.
func (r *Reader) Identity() (string, error) {
	if r.remaining() < IdentityLen {
		return "", verr.New(verr.MalformedPacket, "truncated identity block")
	}
	raw := r.buf[r.pos : r.pos+IdentityLen]
	r.pos += IdentityLen
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end]), nil
}

// String reads a 1-byte-length-prefixed string.
func (r *Reader) String() (string, error) {
	n, err := r.Byte()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", verr.New(verr.MalformedPacket, "string length overruns packet")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// String16 reads a 2-byte big-endian-length-prefixed string (used for URLs).
func (r *Reader) String16() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", verr.New(verr.MalformedPacket, "string16 length overruns packet")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, verr.New(verr.MalformedPacket, "byte slice overruns packet")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Remaining returns every byte not yet consumed.
func (r *Reader) Remaining() []byte {
	return r.buf[r.pos:]
}

// Writer builds an outbound packet payload.
type Writer struct {
	buf []byte
}

// NewWriter starts a packet with the given opcode and slot.
func NewWriter(op Op, slot uint32) *Writer {
	w := &Writer{buf: make([]byte, HeaderLen, 64)}
	w.buf[0] = byte(op)
	binary.BigEndian.PutUint32(w.buf[1:5], slot)
	return w
}

func (w *Writer) PutByte(b byte) *Writer {
	w.buf = append(w.buf, b)
	return w
}

func (w *Writer) PutUint16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) PutUint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *Writer) PutInt32(v int32) *Writer {
	return w.PutUint32(uint32(v))
}

// PutIdentity writes a fixed 32-byte identity block, truncating or
// zero-padding as needed.
func (w *Writer) PutIdentity(id string) *Writer {
	var block [IdentityLen]byte
	copy(block[:], id)
	w.buf = append(w.buf, block[:]...)
	return w
}

// PutString writes a 1-byte-length-prefixed string, truncated to 255 bytes.
func (w *Writer) PutString(s string) *Writer {
	if len(s) > 255 {
		s = s[:255]
	}
	w.buf = append(w.buf, byte(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// PutString16 writes a 2-byte-length-prefixed string.
func (w *Writer) PutString16(s string) *Writer {
	w.PutUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// PutBytes appends raw bytes verbatim.
func (w *Writer) PutBytes(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Bytes returns the assembled packet.
func (w *Writer) Bytes() []byte { return w.buf }
