package chat

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

// Supported key-exchange backends. The choice is made once at configuration
// time; both backends produce the same two-message wire shape, so the frame
// codec never needs to know which one is active.
const (
	BackendKyber  = "kyber768"
	BackendX25519 = "x25519"
)

// KEM is the capability set shared by both key-exchange backends. The
// responder calls GenerateKeyPair then Decapsulate; the initiator only calls
// Encapsulate with the responder's public key.
type KEM interface {
	Name() string

	// GenerateKeyPair creates the local key pair and returns the public
	// part as bytes, ready for the handshake_server_pub frame.
	GenerateKeyPair() ([]byte, error)

	// Encapsulate derives a fresh shared secret against the peer's public
	// key and returns the blob the peer needs to recover it.
	Encapsulate(peerPublic []byte) (blob []byte, secret []byte, err error)

	// Decapsulate recovers the shared secret from the peer's blob using
	// the key pair created by GenerateKeyPair.
	Decapsulate(blob []byte) ([]byte, error)
}

// NewKEM returns the key-exchange backend for the given name. An empty name
// selects the Kyber default.
func NewKEM(backend string) (KEM, error) {
	switch backend {
	case "", BackendKyber:
		return &kyberKEM{scheme: kyber768.Scheme()}, nil
	case BackendX25519:
		return &x25519KEM{}, nil
	default:
		return nil, newError(ErrorTypeHandshake, "new_kem",
			fmt.Errorf("unknown backend %q", backend))
	}
}

// kyberKEM is the post-quantum backend, built on CRYSTALS-Kyber-768.
type kyberKEM struct {
	scheme kem.Scheme
	priv   kem.PrivateKey
}

func (k *kyberKEM) Name() string { return BackendKyber }

func (k *kyberKEM) GenerateKeyPair() ([]byte, error) {
	pub, priv, err := k.scheme.GenerateKeyPair()
	if err != nil {
		return nil, newError(ErrorTypeHandshake, "generate_keypair", err)
	}
	k.priv = priv

	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, newError(ErrorTypeHandshake, "marshal_public_key", err)
	}
	return pubBytes, nil
}

func (k *kyberKEM) Encapsulate(peerPublic []byte) ([]byte, []byte, error) {
	if len(peerPublic) != kyber768.PublicKeySize {
		return nil, nil, newError(ErrorTypeHandshake, "encapsulate",
			fmt.Errorf("public key size %d, expected %d", len(peerPublic), kyber768.PublicKeySize))
	}

	pub, err := k.scheme.UnmarshalBinaryPublicKey(peerPublic)
	if err != nil {
		return nil, nil, newError(ErrorTypeHandshake, "encapsulate", err)
	}

	blob, secret, err := k.scheme.Encapsulate(pub)
	if err != nil {
		return nil, nil, newError(ErrorTypeHandshake, "encapsulate", err)
	}
	return blob, secret, nil
}

func (k *kyberKEM) Decapsulate(blob []byte) ([]byte, error) {
	if k.priv == nil {
		return nil, newError(ErrorTypeHandshake, "decapsulate",
			fmt.Errorf("no local key pair"))
	}
	if len(blob) != kyber768.CiphertextSize {
		return nil, newError(ErrorTypeHandshake, "decapsulate",
			fmt.Errorf("ciphertext size %d, expected %d", len(blob), kyber768.CiphertextSize))
	}

	secret, err := k.scheme.Decapsulate(k.priv, blob)
	if err != nil {
		return nil, newError(ErrorTypeHandshake, "decapsulate", err)
	}
	return secret, nil
}

// x25519KEM is the classical fallback. It keeps the KEM shape by treating the
// initiator's ephemeral public key as the encapsulation blob; both sides hash
// the raw Diffie-Hellman output so the secret matches the 32-byte contract.
type x25519KEM struct {
	secret  x25519.Key
	haveKey bool
}

func (k *x25519KEM) Name() string { return BackendX25519 }

func (k *x25519KEM) GenerateKeyPair() ([]byte, error) {
	if _, err := rand.Read(k.secret[:]); err != nil {
		return nil, newError(ErrorTypeHandshake, "generate_keypair", err)
	}
	var pub x25519.Key
	x25519.KeyGen(&pub, &k.secret)
	k.haveKey = true
	return pub[:], nil
}

func (k *x25519KEM) Encapsulate(peerPublic []byte) ([]byte, []byte, error) {
	if len(peerPublic) != x25519.Size {
		return nil, nil, newError(ErrorTypeHandshake, "encapsulate",
			fmt.Errorf("public key size %d, expected %d", len(peerPublic), x25519.Size))
	}

	var ephSecret, ephPublic, peer, shared x25519.Key
	if _, err := rand.Read(ephSecret[:]); err != nil {
		return nil, nil, newError(ErrorTypeHandshake, "encapsulate", err)
	}
	x25519.KeyGen(&ephPublic, &ephSecret)
	copy(peer[:], peerPublic)

	if !x25519.Shared(&shared, &ephSecret, &peer) {
		return nil, nil, newError(ErrorTypeHandshake, "encapsulate",
			fmt.Errorf("peer public key rejected"))
	}
	secret := sha256.Sum256(shared[:])
	zeroBytes(ephSecret[:])
	zeroBytes(shared[:])
	return ephPublic[:], secret[:], nil
}

func (k *x25519KEM) Decapsulate(blob []byte) ([]byte, error) {
	if !k.haveKey {
		return nil, newError(ErrorTypeHandshake, "decapsulate",
			fmt.Errorf("no local key pair"))
	}
	if len(blob) != x25519.Size {
		return nil, newError(ErrorTypeHandshake, "decapsulate",
			fmt.Errorf("ephemeral key size %d, expected %d", len(blob), x25519.Size))
	}

	var peer, shared x25519.Key
	copy(peer[:], blob)
	if !x25519.Shared(&shared, &k.secret, &peer) {
		return nil, newError(ErrorTypeHandshake, "decapsulate",
			fmt.Errorf("ephemeral public key rejected"))
	}
	secret := sha256.Sum256(shared[:])
	zeroBytes(shared[:])
	return secret[:], nil
}

// zeroBytes clears sensitive material before it goes out of scope.
func zeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
