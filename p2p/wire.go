package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message type codes. These match the wire protocol exactly; do not renumber.
const (
	MsgChoke         byte = 0
	MsgUnchoke       byte = 1
	MsgInterested    byte = 2
	MsgNotInterested byte = 3
	MsgHave          byte = 4
	MsgBitfield      byte = 5
	MsgRequest       byte = 6
	MsgPiece         byte = 7
)

func msgName(t byte) string {
	switch t {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Message is a single framed wire message: length:u32_be ‖ type:u8 ‖ payload.
type Message struct {
	Type    byte
	Payload []byte
}

func (m Message) String() string {
	return fmt.Sprintf("%s[%d bytes]", msgName(m.Type), len(m.Payload))
}

// WriteMessage writes m to w as a single atomic frame.
func WriteMessage(w io.Writer, m Message) error {
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = m.Type
	copy(buf[5:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a single framed message from r, blocking on short reads
// until the frame is complete. EOF mid-message is reported as an error.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return Message{}, fmt.Errorf("p2p: zero-length frame (missing type byte)")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("p2p: short frame: %w", err)
	}

	return Message{Type: body[0], Payload: body[1:]}, nil
}

func encodeIndex(i int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(i))
	return buf
}

func decodeIndex(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("p2p: payload too short for index: %d bytes", len(payload))
	}
	return int(binary.BigEndian.Uint32(payload[:4])), nil
}

// HaveMessage builds a HAVE message for piece index i.
func HaveMessage(i int) Message { return Message{Type: MsgHave, Payload: encodeIndex(i)} }

// ParseHave returns the piece index carried by a HAVE message.
func ParseHave(m Message) (int, error) { return decodeIndex(m.Payload) }

// RequestMessage builds a REQUEST message for piece index i.
func RequestMessage(i int) Message { return Message{Type: MsgRequest, Payload: encodeIndex(i)} }

// ParseRequest returns the piece index carried by a REQUEST message.
func ParseRequest(m Message) (int, error) { return decodeIndex(m.Payload) }

// PieceMessage builds a PIECE message: 4-byte index followed by raw piece bytes.
func PieceMessage(i int, data []byte) Message {
	payload := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(payload[:4], uint32(i))
	copy(payload[4:], data)
	return Message{Type: MsgPiece, Payload: payload}
}

// ParsePiece splits a PIECE message into its index and data.
func ParsePiece(m Message) (int, []byte, error) {
	if len(m.Payload) < 4 {
		return 0, nil, fmt.Errorf("p2p: piece payload too short: %d bytes", len(m.Payload))
	}
	idx := int(binary.BigEndian.Uint32(m.Payload[:4]))
	return idx, m.Payload[4:], nil
}

// BitfieldMessage packs a bitfield into a BITFIELD message.
func BitfieldMessage(bf *Bitfield) Message {
	return Message{Type: MsgBitfield, Payload: bf.Bytes()}
}

const handshakeLiteral = "P2PFILESHARINGPROJ"
const handshakeLen = 32

// BuildHandshake encodes the fixed 32-byte handshake record for peerID.
func BuildHandshake(peerID int) []byte {
	buf := make([]byte, handshakeLen)
	copy(buf[0:18], handshakeLiteral)
	// bytes 18:28 are zero by construction
	binary.BigEndian.PutUint32(buf[28:32], uint32(peerID))
	return buf
}

// ParseHandshake validates and decodes a 32-byte handshake record, returning
// the remote peer id.
func ParseHandshake(buf []byte) (int, error) {
	if len(buf) != handshakeLen {
		return 0, fmt.Errorf("p2p: invalid handshake length: %d", len(buf))
	}
	if string(buf[0:18]) != handshakeLiteral {
		return 0, fmt.Errorf("p2p: invalid handshake literal %q", buf[0:18])
	}
	return int(binary.BigEndian.Uint32(buf[28:32])), nil
}

// ReadHandshake reads and parses a 32-byte handshake off r.
func ReadHandshake(r io.Reader) (int, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("p2p: reading handshake: %w", err)
	}
	return ParseHandshake(buf)
}
