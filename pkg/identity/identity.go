// Package identity owns the bridge's long-lived device keypair.
//
// The keypair is Ed25519. The device id is the lowercase hex SHA-256 of the
// raw 32-byte public key, so it is stable for as long as the key file lives.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Identity is an immutable loaded device keypair.
type Identity struct {
	deviceID string
	pub      ed25519.PublicKey
	priv     ed25519.PrivateKey
}

func newIdentity(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Identity {
	return &Identity{
		deviceID: DeviceID(pub),
		pub:      pub,
		priv:     priv,
	}
}

// DeviceID derives the device id from a raw public key.
func DeviceID(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// DeviceID returns the stable device identifier.
func (i *Identity) DeviceID() string { return i.deviceID }

// PublicKeyRaw returns a copy of the raw 32-byte public key.
func (i *Identity) PublicKeyRaw() []byte {
	out := make([]byte, len(i.pub))
	copy(out, i.pub)
	return out
}

// PublicKeyBase64URL returns the raw public key, base64url without padding.
func (i *Identity) PublicKeyBase64URL() string {
	return base64.RawURLEncoding.EncodeToString(i.pub)
}

// Sign returns a detached signature over msg exactly as given.
func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.priv, msg)
}

// Verify checks sig over msg with a raw public key.
func Verify(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
