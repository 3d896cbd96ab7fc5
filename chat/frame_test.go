package chat

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	cipher, err := NewCipher(testSecret(t))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	codec := NewCodec()
	codec.Bind(cipher)
	return codec
}

func TestCodecMessageRoundTrip(t *testing.T) {
	codec := testCodec(t)

	line, err := codec.EncodeMessage("hello")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if line[len(line)-1] != '\n' {
		t.Error("encoded frame is not newline terminated")
	}

	frame, err := codec.Decode(bytes.TrimSuffix(line, []byte("\n")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != FrameMessage {
		t.Errorf("frame type %s, want %s", frame.Type, FrameMessage)
	}
	if frame.Text != "hello" {
		t.Errorf("decoded text %q, want %q", frame.Text, "hello")
	}
}

func TestCodecFileRoundTrip(t *testing.T) {
	codec := testCodec(t)
	payload := bytes.Repeat([]byte{0xAB}, 4096)

	line, err := codec.EncodeFile("photo.png", payload)
	if err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}

	// The filename must not appear in the clear anywhere on the wire.
	if bytes.Contains(line, []byte("photo.png")) {
		t.Error("filename leaked outside the encrypted payload")
	}

	frame, err := codec.Decode(bytes.TrimSuffix(line, []byte("\n")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != FrameFile {
		t.Errorf("frame type %s, want %s", frame.Type, FrameFile)
	}
	if frame.Filename != "photo.png" {
		t.Errorf("decoded filename %q, want %q", frame.Filename, "photo.png")
	}
	if !bytes.Equal(frame.Data, payload) {
		t.Error("decoded payload differs from original")
	}
}

// A file at exactly MaxFilePayload must survive double base64 expansion and
// still fit through the receiving side's frame scanner.
func TestCodecMaxFilePayloadFitsFrameLimit(t *testing.T) {
	codec := testCodec(t)
	payload := bytes.Repeat([]byte{0xC7}, MaxFilePayload)

	line, err := codec.EncodeFile("big.bin", payload)
	if err != nil {
		t.Fatalf("EncodeFile: %v", err)
	}
	if len(line) > maxFrameSize {
		t.Fatalf("encoded frame is %d bytes, exceeds scanner limit %d", len(line), maxFrameSize)
	}

	sc := newFrameScanner(bytes.NewReader(line))
	if !sc.Scan() {
		t.Fatalf("scanner rejected maximum-size frame: %v", sc.Err())
	}
	frame, err := codec.Decode(sc.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Filename != "big.bin" || !bytes.Equal(frame.Data, payload) {
		t.Error("maximum-size file did not round trip")
	}
}

func TestCodecFileTooLarge(t *testing.T) {
	codec := testCodec(t)
	if _, err := codec.EncodeFile("big.bin", make([]byte, MaxFilePayload+1)); !IsErrorType(err, ErrorTypeProtocol) {
		t.Errorf("expected protocol error for oversized file, got %v", err)
	}
}

func TestCodecUnknownFrameType(t *testing.T) {
	codec := testCodec(t)
	_, err := codec.Decode([]byte(`{"type":"dance"}`))
	if !errors.Is(err, ErrUnknownFrameType) {
		t.Errorf("expected ErrUnknownFrameType, got %v", err)
	}
	if !IsErrorType(err, ErrorTypeProtocol) {
		t.Errorf("unknown frame type should be a protocol error, got %v", err)
	}
}

func TestCodecEncryptedFrameBeforeHandshake(t *testing.T) {
	keyed := testCodec(t)
	line, err := keyed.EncodeMessage("too early")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	unkeyed := NewCodec()
	_, err = unkeyed.Decode(bytes.TrimSuffix(line, []byte("\n")))
	if !errors.Is(err, ErrHandshakeIncomplete) {
		t.Errorf("expected ErrHandshakeIncomplete, got %v", err)
	}
	if !IsErrorType(err, ErrorTypeProtocol) {
		t.Errorf("pre-handshake frame should be a protocol error, got %v", err)
	}
}

func TestCodecMalformedRecords(t *testing.T) {
	codec := testCodec(t)
	for _, raw := range []string{
		`not json at all`,
		`{"type":"message"}`,
		`{"type":"message","nonce":"!!!","ciphertext":"AAAA"}`,
		`{"type":"handshake_server_pub"}`,
	} {
		if _, err := codec.Decode([]byte(raw)); !IsErrorType(err, ErrorTypeProtocol) {
			t.Errorf("record %q: expected protocol error, got %v", raw, err)
		}
	}
}

func TestCodecTamperedCiphertextField(t *testing.T) {
	codec := testCodec(t)
	line, err := codec.EncodeMessage("do not touch")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	// Corrupt one base64 character inside the ciphertext field.
	idx := bytes.Index(line, []byte(`"ciphertext":"`)) + len(`"ciphertext":"`)
	tampered := make([]byte, len(line))
	copy(tampered, line)
	if tampered[idx] == 'A' {
		tampered[idx] = 'B'
	} else {
		tampered[idx] = 'A'
	}

	if _, err := codec.Decode(bytes.TrimSuffix(tampered, []byte("\n"))); !IsErrorType(err, ErrorTypeAuthentication) {
		t.Errorf("expected authentication error for tampered ciphertext, got %v", err)
	}
}

func TestHandshakeFrameEncoding(t *testing.T) {
	public := []byte{1, 2, 3, 4}
	line, err := EncodeServerPub(public)
	if err != nil {
		t.Fatalf("EncodeServerPub: %v", err)
	}
	frame, err := NewCodec().Decode(bytes.TrimSuffix(line, []byte("\n")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != FrameServerPub || !bytes.Equal(frame.Public, public) {
		t.Errorf("server pub round trip failed: %+v", frame)
	}

	blob := []byte{9, 8, 7}
	line, err = EncodeClientBlob(blob)
	if err != nil {
		t.Fatalf("EncodeClientBlob: %v", err)
	}
	frame, err = NewCodec().Decode(bytes.TrimSuffix(line, []byte("\n")))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != FrameClientBlob || !bytes.Equal(frame.Blob, blob) {
		t.Errorf("client blob round trip failed: %+v", frame)
	}
}

// A record arriving split across several socket reads must be reassembled
// before parsing.
func TestFrameScannerReassemblesSplitRecords(t *testing.T) {
	codec := testCodec(t)
	line, err := codec.EncodeMessage("split me across reads")
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		for i := 0; i < len(line); i += 7 {
			end := i + 7
			if end > len(line) {
				end = len(line)
			}
			if _, err := client.Write(line[i:end]); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	sc := newFrameScanner(server)
	if !sc.Scan() {
		t.Fatalf("Scan failed: %v", sc.Err())
	}
	frame, err := codec.Decode(sc.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Text != "split me across reads" {
		t.Errorf("decoded %q after reassembly", frame.Text)
	}
}
