package chat

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// Frame types on the wire.
const (
	FrameServerPub  = "handshake_server_pub"
	FrameClientBlob = "handshake_client_blob"
	FrameMessage    = "message"
	FrameFile       = "file"
)

// maxFrameSize bounds a single newline-delimited record, encrypted file
// payloads included.
const maxFrameSize = 10 << 20

// MaxFilePayload is the largest file accepted by SendFile. Base64 is applied
// twice on the way out (inner record payload, then outer ciphertext), so the
// worst-case encoded frame is 16/9 of the raw size; the 64 KiB deduction
// covers the JSON envelopes, filename, nonce and tag. Anything encoded under
// this bound fits a receiver's frame scanner.
const MaxFilePayload = maxFrameSize/16*9 - 64<<10

// wireFrame is the JSON record sent on the wire, one per line. Binary fields
// are base64 so a frame is always a single line of text.
type wireFrame struct {
	Type       string `json:"type"`
	Public     string `json:"public,omitempty"`
	Blob       string `json:"blob,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// fileRecord is the inner record for file frames. It is serialized and then
// encrypted whole, so the filename travels under the same protection as the
// payload.
type fileRecord struct {
	Filename string `json:"filename"`
	Payload  []byte `json:"payload"`
}

// DecodedFrame is the result of decoding one wire record.
type DecodedFrame struct {
	Type     string
	Text     string // message frames
	Filename string // file frames
	Data     []byte // file frames
	Public   []byte // handshake_server_pub
	Blob     []byte // handshake_client_blob
}

// Codec turns application messages into wire frames and back. It starts
// unkeyed; Bind attaches the connection's cipher once the handshake is done.
// Handshake frames never touch the cipher, so the codec works identically for
// both key-exchange backends.
type Codec struct {
	cipher *Cipher
}

// NewCodec returns an unkeyed codec. Only handshake frames can be decoded
// until Bind is called.
func NewCodec() *Codec {
	return &Codec{}
}

// Bind attaches the negotiated cipher to the codec.
func (c *Codec) Bind(cipher *Cipher) {
	c.cipher = cipher
}

// Ready reports whether the codec can handle encrypted frames.
func (c *Codec) Ready() bool {
	return c.cipher != nil
}

func marshalFrame(f *wireFrame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, newError(ErrorTypeProtocol, "marshal_frame", err)
	}
	return append(raw, '\n'), nil
}

// EncodeServerPub builds the responder's opening handshake frame.
func EncodeServerPub(public []byte) ([]byte, error) {
	return marshalFrame(&wireFrame{
		Type:   FrameServerPub,
		Public: base64.StdEncoding.EncodeToString(public),
	})
}

// EncodeClientBlob builds the initiator's handshake reply.
func EncodeClientBlob(blob []byte) ([]byte, error) {
	return marshalFrame(&wireFrame{
		Type: FrameClientBlob,
		Blob: base64.StdEncoding.EncodeToString(blob),
	})
}

// EncodeMessage encrypts text into a message frame.
func (c *Codec) EncodeMessage(text string) ([]byte, error) {
	return c.encodeSealed(FrameMessage, []byte(text))
}

// EncodeFile wraps filename and payload in the inner file record, encrypts
// the whole record, and builds a file frame around it.
func (c *Codec) EncodeFile(filename string, data []byte) ([]byte, error) {
	if len(data) > MaxFilePayload {
		return nil, newError(ErrorTypeProtocol, "encode_file",
			fmt.Errorf("file is %d bytes, limit is %d", len(data), MaxFilePayload))
	}

	inner, err := json.Marshal(&fileRecord{Filename: filename, Payload: data})
	if err != nil {
		return nil, newError(ErrorTypeProtocol, "encode_file", err)
	}
	return c.encodeSealed(FrameFile, inner)
}

func (c *Codec) encodeSealed(frameType string, plaintext []byte) ([]byte, error) {
	if c.cipher == nil {
		return nil, newError(ErrorTypeProtocol, "encode", ErrHandshakeIncomplete)
	}

	sealed, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return marshalFrame(&wireFrame{
		Type:       frameType,
		Nonce:      base64.StdEncoding.EncodeToString(sealed[:NonceSize]),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[NonceSize:]),
	})
}

// Decode parses one raw record and, for encrypted frame types, authenticates
// and decrypts it. Encrypted frames before Bind are a protocol violation.
func (c *Codec) Decode(raw []byte) (*DecodedFrame, error) {
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, newError(ErrorTypeProtocol, "decode", err)
	}

	switch f.Type {
	case FrameServerPub:
		public, err := decodeField("public", f.Public)
		if err != nil {
			return nil, err
		}
		return &DecodedFrame{Type: FrameServerPub, Public: public}, nil

	case FrameClientBlob:
		blob, err := decodeField("blob", f.Blob)
		if err != nil {
			return nil, err
		}
		return &DecodedFrame{Type: FrameClientBlob, Blob: blob}, nil

	case FrameMessage:
		plaintext, err := c.openSealed(&f)
		if err != nil {
			return nil, err
		}
		return &DecodedFrame{Type: FrameMessage, Text: string(plaintext)}, nil

	case FrameFile:
		plaintext, err := c.openSealed(&f)
		if err != nil {
			return nil, err
		}
		var rec fileRecord
		if err := json.Unmarshal(plaintext, &rec); err != nil {
			return nil, newError(ErrorTypeProtocol, "decode_file", err)
		}
		return &DecodedFrame{Type: FrameFile, Filename: rec.Filename, Data: rec.Payload}, nil

	default:
		return nil, newError(ErrorTypeProtocol, "decode",
			fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type))
	}
}

func (c *Codec) openSealed(f *wireFrame) ([]byte, error) {
	if c.cipher == nil {
		return nil, newError(ErrorTypeProtocol, "decode", ErrHandshakeIncomplete)
	}

	nonce, err := decodeField("nonce", f.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := decodeField("ciphertext", f.Ciphertext)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, len(nonce)+len(ciphertext))
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	return c.cipher.Decrypt(payload)
}

func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, newError(ErrorTypeProtocol, "decode",
			fmt.Errorf("missing %s field", name))
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, newError(ErrorTypeProtocol, "decode",
			fmt.Errorf("bad %s field: %w", name, err))
	}
	return raw, nil
}

// newFrameScanner wraps a connection in a line scanner sized for the largest
// legal frame. A record split across socket reads is reassembled before
// Decode ever sees it.
func newFrameScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return sc
}
