package worker

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/dedis/kyber"
	"github.com/dedis/prenet/crypto"
	"github.com/dedis/prenet/errs"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	saltLen      = 16
)

// KeyMaterial is the pair of long-lived keypairs one worker process holds:
// its identity/cfrag-proof signing key and its kfrag-decryption key (spec
// §3: WorkerIdentity's signing_pk/decryption_pk).
type KeyMaterial struct {
	Signing    *crypto.KeyPair
	Decryption *crypto.KeyPair
}

// SaveKeyMaterial persists km under a passphrase-gated AEAD envelope (spec
// §6: "its own key material under an authenticated-encryption envelope
// gated by a passphrase"), written atomically via write-to-temp + rename.
func SaveKeyMaterial(path, passphrase string, km *KeyMaterial) error {
	plain := marshalKeyMaterial(km)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := aead.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, saltLen+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return atomicWrite(path, out)
}

// LoadKeyMaterial reverses SaveKeyMaterial.
func LoadKeyMaterial(path, passphrase string) (*KeyMaterial, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < saltLen+chacha20poly1305.NonceSize {
		return nil, errs.Wrap(errs.ErrProtocol, "key material file truncated")
	}
	salt := raw[:saltLen]
	rest := raw[saltLen:]
	nonce := rest[:chacha20poly1305.NonceSize]
	sealed := rest[chacha20poly1305.NonceSize:]

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAuth, "key material: wrong passphrase or corrupted envelope")
	}
	return unmarshalKeyMaterial(plain)
}

func marshalKeyMaterial(km *KeyMaterial) []byte {
	var buf []byte
	buf = appendScalar(buf, km.Signing.Private)
	buf = appendScalar(buf, km.Decryption.Private)
	return buf
}

func appendScalar(buf []byte, s kyber.Scalar) []byte {
	b, err := s.MarshalBinary()
	if err != nil {
		panic("worker: invalid scalar in key material: " + err.Error())
	}
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	buf = append(buf, l[:]...)
	return append(buf, b...)
}

func readScalar(buf []byte, pos int) (kyber.Scalar, int, error) {
	if pos+4 > len(buf) {
		return nil, 0, errs.MalformedFrame
	}
	n := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if pos+n > len(buf) {
		return nil, 0, errs.MalformedFrame
	}
	s := crypto.Suite.Scalar()
	if err := s.UnmarshalBinary(buf[pos : pos+n]); err != nil {
		return nil, 0, errs.MalformedFrame
	}
	return s, pos + n, nil
}

func unmarshalKeyMaterial(buf []byte) (*KeyMaterial, error) {
	signingSK, pos, err := readScalar(buf, 0)
	if err != nil {
		return nil, err
	}
	decryptionSK, pos, err := readScalar(buf, pos)
	if err != nil {
		return nil, err
	}
	_ = pos
	return &KeyMaterial{
		Signing:    &crypto.KeyPair{Private: signingSK, Public: crypto.Suite.Point().Mul(signingSK, nil)},
		Decryption: &crypto.KeyPair{Private: decryptionSK, Public: crypto.Suite.Point().Mul(decryptionSK, nil)},
	}, nil
}

// atomicWrite implements spec §6's "Atomic writes via write-to-temp +
// rename" for every persisted store in this package.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
