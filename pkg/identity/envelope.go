package identity

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const sealedFormatVersion = 1

// ErrWrongPassphrase is returned when a sealed key cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted identity")

// sealed is the on-disk form of a passphrase-protected private key.
type sealed struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

func scryptParams() (n, r, p int) { return 1 << 15, 8, 1 }

// seal derives a key from passphrase and encrypts raw with it.
func seal(passphrase string, raw []byte) (*sealed, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	n, r, p := scryptParams()
	key, err := scrypt.Key([]byte(passphrase), salt[:], n, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// zero nonce: the key is unique per salt
	var nonce [chacha20poly1305.NonceSize]byte
	return &sealed{
		V:      sealedFormatVersion,
		Salt:   salt[:],
		N:      n,
		R:      r,
		P:      p,
		Cipher: aead.Seal(nil, nonce[:], raw, salt[:]),
	}, nil
}

func (s *sealed) open(passphrase string) ([]byte, error) {
	if s.V > sealedFormatVersion {
		return nil, fmt.Errorf("unsupported sealed key version %d", s.V)
	}
	key, err := scrypt.Key([]byte(passphrase), s.Salt, s.N, s.R, s.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], s.Cipher, s.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

