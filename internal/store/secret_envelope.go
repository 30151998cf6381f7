package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"sotto/internal/util/memzero"
)

const saltBytes = 16

// sealedBlob is the on-disk shape of an encrypted store file.
type sealedBlob struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	CT    []byte `json:"ct"`
}

// seal encrypts plaintext under a file key derived from the master key and a
// fresh salt.
func seal(masterKey [32]byte, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := fileKey(masterKey, salt)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, salt)
	return json.Marshal(sealedBlob{Salt: salt, Nonce: nonce, CT: ct})
}

// open decrypts a sealed store file.
func open(masterKey [32]byte, blob []byte) ([]byte, error) {
	var env sealedBlob
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	if len(env.Salt) != saltBytes || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("store: malformed sealed blob")
	}
	key, err := fileKey(masterKey, env.Salt)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, env.Nonce, env.CT, env.Salt)
}

func fileKey(masterKey [32]byte, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey[:], salt, []byte("sotto/store"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
