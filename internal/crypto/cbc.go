package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Encrypt pads plaintext with PKCS#7 and encrypts it in CBC mode under a
// fresh random IV. The IV is returned separately and is not part of the
// ciphertext.
func Encrypt(plaintext, key []byte, alg Algorithm) ([]byte, []byte, error) {
	block, err := alg.newBlock(key)
	if err != nil {
		return nil, nil, err
	}

	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	wipe(padded)

	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt. Only the structure is checked: a wrong key
// usually yields garbage instead of an error, so callers verify the
// password first.
func Decrypt(ciphertext, key, iv []byte, alg Algorithm) ([]byte, error) {
	block, err := alg.newBlock(key)
	if err != nil {
		return nil, err
	}

	bs := block.BlockSize()
	if len(iv) != bs {
		return nil, fmt.Errorf("%w: iv is %d bytes, %s needs %d", ErrDecryptionFailed, len(iv), alg, bs)
	}
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", ErrDecryptionFailed, len(ciphertext), bs)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	out, err := unpad(plaintext)
	if err != nil {
		wipe(plaintext)
		return nil, err
	}
	return out, nil
}

// pad always appends between 1 and blockSize bytes
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// unpad trusts the trailing length byte but never trims past the start
func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > len(data) {
		return nil, fmt.Errorf("%w: pad length %d out of range", ErrDecryptionFailed, n)
	}
	return data[:len(data)-n], nil
}

// wipe zeroes sensitive buffers once they are no longer needed
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
