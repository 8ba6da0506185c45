// RFC 3394 AES Key Wrap, used to wrap the Stream Encrypting Key (SEK)
// with the Key Encrypting Key (KEK) inside a KMREQ message. No pack
// repo vendors a key-wrap implementation; this is a fixed ~40-line
// algorithm over crypto/aes, the idiomatic choice over importing a
// dependency for one primitive no example in the corpus needs
// elsewhere.
package crypto

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/pkg/errors"
)

var defaultIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// ErrKeyWrapIntegrity is returned by KeyUnwrap when the unwrapped
// sentinel does not match, indicating the wrong KEK (BadSecret per
// spec.md §4.6).
var ErrKeyWrapIntegrity = errors.New("crypto: key unwrap integrity check failed")

// KeyWrap wraps plaintext key material (a multiple of 8 bytes, at
// least 16) with kek, per RFC 3394.
func KeyWrap(kek, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: key wrap cipher init")
	}
	n := len(plaintext) / 8
	r := make([][8]byte, n+1)
	copy(r[0][:], defaultIV[:])
	for i := 0; i < n; i++ {
		copy(r[i+1][:], plaintext[i*8:i*8+8])
	}

	a := r[0]
	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[0:8], a[:])
			copy(buf[8:16], r[i][:])
			block.Encrypt(buf, buf)
			var t uint64 = uint64(n*j + i)
			var tb [8]byte
			copy(tb[:], buf[0:8])
			xorWithCounter(&tb, t)
			a = tb
			copy(r[i][:], buf[8:16])
		}
	}

	out := make([]byte, 8*(n+1))
	copy(out[0:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8*(i+1):8*(i+2)], r[i+1][:])
	}
	return out, nil
}

// KeyUnwrap reverses KeyWrap, returning ErrKeyWrapIntegrity if the
// recovered sentinel does not match the RFC 3394 default IV.
func KeyUnwrap(kek, wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: key unwrap cipher init")
	}
	n := len(wrapped)/8 - 1
	var a [8]byte
	copy(a[:], wrapped[0:8])
	r := make([][8]byte, n+1)
	for i := 0; i < n; i++ {
		copy(r[i+1][:], wrapped[8*(i+1):8*(i+2)])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			var t uint64 = uint64(n*j + i)
			tb := a
			xorWithCounter(&tb, t)
			copy(buf[0:8], tb[:])
			copy(buf[8:16], r[i][:])
			block.Decrypt(buf, buf)
			copy(a[:], buf[0:8])
			copy(r[i][:], buf[8:16])
		}
	}

	if a != defaultIV {
		return nil, ErrKeyWrapIntegrity
	}
	out := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		copy(out[8*i:8*i+8], r[i+1][:])
	}
	return out, nil
}

func xorWithCounter(b *[8]byte, t uint64) {
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], t)
	for i := range b {
		b[i] ^= tb[i]
	}
}
