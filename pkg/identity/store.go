package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xpanvictor/vera/pkg/Logger"
)

const fileFormatVersion = 1

// record is the on-disk JSON layout of the identity file.
type record struct {
	Version          int     `json:"version"`
	DeviceID         string  `json:"deviceId"`
	PublicKey        string  `json:"publicKey"`
	PublicKeyPem     string  `json:"publicKeyPem"`
	PrivateKeyPem    string  `json:"privateKeyPem,omitempty"`
	SealedPrivateKey *sealed `json:"sealedPrivateKey,omitempty"`
	CreatedAtMs      int64   `json:"createdAtMs"`
}

// FileStore loads or creates the device identity at a single file path.
type FileStore struct {
	path       string
	passphrase string
	logger     *Logger.Logger

	mu     sync.Mutex
	loaded *Identity
}

// NewFileStore returns a store rooted at path. An empty passphrase stores the
// private key as plain PKCS#8 PEM.
func NewFileStore(path, passphrase string, logger *Logger.Logger) *FileStore {
	return &FileStore{path: path, passphrase: passphrase, logger: logger}
}

// Load returns the persisted identity, generating and persisting one first if
// the file does not exist. Repeated calls return the same identity.
func (s *FileStore) Load() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded != nil {
		return s.loaded, nil
	}

	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		id, err := s.create()
		if err != nil {
			return nil, err
		}
		s.loaded = id
		return id, nil
	case err != nil:
		return nil, fmt.Errorf("read identity %s: %w", s.path, err)
	}

	id, err := s.decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", s.path, err)
	}
	s.loaded = id
	return id, nil
}

func (s *FileStore) create() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	id := newIdentity(pub, priv)

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}

	rec := record{
		Version:      fileFormatVersion,
		DeviceID:     id.DeviceID(),
		PublicKey:    id.PublicKeyBase64URL(),
		PublicKeyPem: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		CreatedAtMs:  time.Now().UnixMilli(),
	}
	if s.passphrase != "" {
		rec.SealedPrivateKey, err = seal(s.passphrase, privDER)
		if err != nil {
			return nil, fmt.Errorf("seal private key: %w", err)
		}
	} else {
		rec.PrivateKeyPem = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeFile(s.path, out, 0o600); err != nil {
		return nil, fmt.Errorf("write identity %s: %w", s.path, err)
	}

	if s.logger != nil {
		s.logger.Infof("generated device identity %s at %s", id.DeviceID(), s.path)
	}
	return id, nil
}

func (s *FileStore) decode(b []byte) (*Identity, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	if rec.Version > fileFormatVersion {
		return nil, fmt.Errorf("unsupported identity version %d", rec.Version)
	}

	var der []byte
	switch {
	case rec.SealedPrivateKey != nil:
		if s.passphrase == "" {
			return nil, errors.New("identity is sealed but no passphrase is configured")
		}
		pt, err := rec.SealedPrivateKey.open(s.passphrase)
		if err != nil {
			return nil, err
		}
		der = pt
	case rec.PrivateKeyPem != "":
		block, _ := pem.Decode([]byte(rec.PrivateKeyPem))
		if block == nil {
			return nil, errors.New("invalid private key PEM")
		}
		der = block.Bytes
	default:
		return nil, errors.New("identity has no private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", key)
	}
	pub := priv.Public().(ed25519.PublicKey)
	id := newIdentity(pub, priv)

	if rec.PublicKey != "" {
		if stored, err := base64.RawURLEncoding.DecodeString(rec.PublicKey); err != nil || !pub.Equal(ed25519.PublicKey(stored)) {
			return nil, errors.New("stored public key does not match private key")
		}
	}
	if rec.DeviceID != id.DeviceID() && s.logger != nil {
		s.logger.Warnf("stored device id %q does not match key, using %s", rec.DeviceID, id.DeviceID())
	}
	return id, nil
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
