// Package crypto implements CryptoControl per spec.md §4.6: KEK
// derivation via PBKDF2-HMAC-SHA1, Even/Odd SEK management, key
// material (KM) request/response messages wrapping the SEK with
// RFC 3394 AES Key Wrap, and per-packet AES-CTR/GCM encryption keyed
// by sequence number. Grounded on original_source/haicrypt for the
// message shape and key-rotation windowing (see SPEC_FULL.md §6);
// AES primitives stay on crypto/aes + crypto/cipher rather than a
// third-party cipher library, since no pack repo implements SRT-style
// haicrypt and stdlib covers CTR/GCM completely.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// KMState is the key-material negotiation state for one direction.
type KMState int

const (
	KMUnsecured KMState = iota
	KMSecuring
	KMSecured
	KMNoSecret
	KMBadSecret
)

// Cipher selects the per-packet AEAD/stream construction.
type Cipher int

const (
	CipherAESCTR Cipher = iota
	CipherAESGCM
)

const pbkdf2Iterations = 2048

// KeySpec indexes the Even/Odd SEK pair.
type KeySpec int

const (
	KeyEven KeySpec = 0
	KeyOdd  KeySpec = 1
)

// Control holds one connection's crypto state: the derived KEK, the
// active SEK pair, and negotiation state. Not safe for concurrent use
// without external locking (the owning Connection already serializes
// access to it under its own state lock, per spec.md §5's lock order).
type Control struct {
	passphrase []byte
	salt       [14]byte // 112-bit salt, high part of the IV
	kek        []byte
	keyLen     int
	cipher     Cipher

	seks      [2][]byte // indexed by KeySpec
	haveSEK   [2]bool
	activeKey KeySpec

	state       KMState
	peerState   KMState // peer's reported KM state, echoed via KmStatus/KMRSP
	refreshRate uint64  // regenerate SEK every N packets
	preAnnounce uint64  // packets before switchover to pre-announce
	sentCount   uint64
}

// NewControl constructs a Control for the given passphrase (10-79
// bytes) and key length in bytes (16, 24, or 32).
func NewControl(passphrase []byte, keyLen int, cipher Cipher) (*Control, error) {
	if len(passphrase) > 0 && (len(passphrase) < 10 || len(passphrase) > 79) {
		return nil, errors.New("crypto: passphrase must be 10-79 bytes")
	}
	c := &Control{
		passphrase:  passphrase,
		keyLen:      keyLen,
		cipher:      cipher,
		refreshRate: 1 << 24,
		preAnnounce: 4096,
	}
	if _, err := rand.Read(c.salt[:]); err != nil {
		return nil, errors.Wrap(err, "crypto: salt generation")
	}
	if len(passphrase) == 0 {
		c.state = KMNoSecret
		return c, nil
	}
	c.deriveKEK()
	return c, nil
}

func (c *Control) deriveKEK() {
	// KEK = PBKDF2-HMAC-SHA1(passphrase, last 8 bytes of salt, 2048, keyLen)
	salt8 := c.salt[len(c.salt)-8:]
	c.kek = pbkdf2.Key(c.passphrase, salt8, pbkdf2Iterations, c.keyLen, sha1.New)
}

// GenerateSEK creates a fresh random SEK for the given key slot,
// called on the sender at startup and on each key-rotation interval.
func (c *Control) GenerateSEK(slot KeySpec) error {
	sek := make([]byte, c.keyLen)
	if _, err := rand.Read(sek); err != nil {
		return errors.Wrap(err, "crypto: SEK generation")
	}
	c.seks[slot] = sek
	c.haveSEK[slot] = true
	c.state = KMSecured
	return nil
}

// ShouldRotate reports whether sentCount has crossed the pre-announce
// threshold before the next refresh boundary, meaning a new SEK should
// be generated and announced in the inactive slot while the active
// slot keeps encrypting.
func (c *Control) ShouldRotate() bool {
	if c.refreshRate == 0 {
		return false
	}
	return c.sentCount%c.refreshRate == c.refreshRate-c.preAnnounce
}

// ActiveKey returns the currently active key spec for encryption.
func (c *Control) ActiveKey() KeySpec { return c.activeKey }

// InactiveKey returns the slot opposite ActiveKey, the one a pending
// rotation generates the new SEK into before switchover.
func (c *Control) InactiveKey() KeySpec {
	if c.activeKey == KeyEven {
		return KeyOdd
	}
	return KeyEven
}

// Flip switches the active encryption key, called at the switchover
// point after the pre-announce window elapses.
func (c *Control) Flip() {
	if c.activeKey == KeyEven {
		c.activeKey = KeyOdd
	} else {
		c.activeKey = KeyEven
	}
}

// ShouldSwitchover reports whether sentCount has reached the refresh
// boundary, meaning the pre-announced inactive SEK should now become
// active via Flip.
func (c *Control) ShouldSwitchover() bool {
	if c.refreshRate == 0 {
		return false
	}
	return c.sentCount != 0 && c.sentCount%c.refreshRate == 0
}

// SetRotation overrides the default refresh/pre-announce cadence,
// called once at connection setup from the negotiated Options.
func (c *Control) SetRotation(refreshRate, preAnnounce uint64) {
	c.refreshRate = refreshRate
	c.preAnnounce = preAnnounce
}

// PeerState returns the peer's last-reported KM state, fed by the
// KmStatus extension field or a KMRSP's AddInfo, per spec.md §8
// Scenario 6's bidirectional bad-secret reporting.
func (c *Control) PeerState() KMState { return c.peerState }

// SetPeerState records the peer's reported KM state.
func (c *Control) SetPeerState(s KMState) { c.peerState = s }

// BuildKMReq serialises a key-material request message carrying the
// wrapped SEK(s) currently installed, per spec.md §4.6's KMREQ shape.
func (c *Control) BuildKMReq() ([]byte, error) {
	var keyFlags byte
	var wrapped []byte
	for slot := KeyEven; slot <= KeyOdd; slot++ {
		if !c.haveSEK[slot] {
			continue
		}
		keyFlags |= 1 << slot
		w, err := KeyWrap(c.kek, c.seks[slot])
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, w...)
	}

	buf := make([]byte, 8+len(c.salt)+len(wrapped))
	buf[0] = 1 // version
	buf[1] = keyFlags
	buf[2] = byte(c.cipher)
	buf[3] = byte(c.keyLen)
	copy(buf[4:4+len(c.salt)], c.salt[:])
	copy(buf[4+len(c.salt):], wrapped)
	binary.BigEndian.PutUint32(buf[len(buf)-4:], uint32(len(wrapped)))
	return buf, nil
}

// KMMessage is a parsed key-material request or response.
type KMMessage struct {
	Version  byte
	KeyFlags byte
	Cipher   Cipher
	KeyLen   int
	Salt     [14]byte
	Wrapped  [][]byte // one entry per SEK slot present, in Even,Odd order
}

// ParseKMReq decodes a KMREQ body built by BuildKMReq.
func ParseKMReq(buf []byte) (*KMMessage, error) {
	if len(buf) < 8+14 {
		return nil, errors.New("crypto: KM message too short")
	}
	m := &KMMessage{
		Version:  buf[0],
		KeyFlags: buf[1],
		Cipher:   Cipher(buf[2]),
		KeyLen:   int(buf[3]),
	}
	copy(m.Salt[:], buf[4:18])
	rest := buf[18 : len(buf)-4]
	wrapLen := int(binary.BigEndian.Uint32(buf[len(buf)-4:]))
	slotSize := wrapLen
	nSlots := 0
	for s := KeyEven; s <= KeyOdd; s++ {
		if m.KeyFlags&(1<<s) != 0 {
			nSlots++
		}
	}
	if nSlots > 0 {
		slotSize = wrapLen / nSlots
	}
	for off := 0; off+slotSize <= len(rest); off += slotSize {
		m.Wrapped = append(m.Wrapped, rest[off:off+slotSize])
	}
	return m, nil
}

// InstallFromKMReq processes a received KMREQ: unwraps the SEK(s) with
// the receiver's own KEK (derived from the shared passphrase and the
// message's salt) and installs them, transitioning KMState per
// spec.md §4.6's on-receive rules.
func (c *Control) InstallFromKMReq(m *KMMessage) error {
	if len(c.passphrase) == 0 {
		c.state = KMNoSecret
		return errors.New("crypto: no local passphrase configured")
	}
	copy(c.salt[:], m.Salt[:])
	c.keyLen = m.KeyLen
	c.deriveKEK()

	slot := KeyEven
	for _, w := range m.Wrapped {
		for slot <= KeyOdd && m.KeyFlags&(1<<slot) == 0 {
			slot++
		}
		if slot > KeyOdd {
			break
		}
		sek, err := KeyUnwrap(c.kek, w)
		if err != nil {
			c.state = KMBadSecret
			return err
		}
		c.seks[slot] = sek
		c.haveSEK[slot] = true
		slot++
	}
	c.state = KMSecured
	return nil
}

// State returns the current KM negotiation state.
func (c *Control) State() KMState { return c.state }

// buildIV constructs the 128-bit IV: salt in the high bits, XORed with
// (sequence number << 16 | block counter) in the low 48 bits, per
// spec.md §4.6.
func buildIV(salt [14]byte, seqNo uint32, blockCounter uint16) [16]byte {
	var iv [16]byte
	copy(iv[:14], salt[:])
	var low [2]byte
	binary.BigEndian.PutUint16(low[:], blockCounter)
	iv[14] ^= low[0]
	iv[15] ^= low[1]
	var seqBytes [4]byte
	binary.BigEndian.PutUint32(seqBytes[:], seqNo)
	for i := 0; i < 4; i++ {
		iv[10+i] ^= seqBytes[i]
	}
	return iv
}

// Encrypt encrypts plaintext for the given sequence number using the
// currently active SEK, returning ciphertext (with an appended auth
// tag when Cipher is CipherAESGCM).
func (c *Control) Encrypt(seqNo uint32, plaintext []byte) ([]byte, error) {
	if !c.haveSEK[c.activeKey] {
		return nil, errors.New("crypto: no SEK installed for active key")
	}
	out, err := c.cryptWith(c.seks[c.activeKey], seqNo, plaintext, true)
	if err == nil {
		c.sentCount++
	}
	return out, err
}

// Decrypt decrypts ciphertext received with the given key spec and
// sequence number. A GCM authentication failure is reported as an
// error so the caller can count it as undecryptable, per spec.md §4.6.
func (c *Control) Decrypt(slot KeySpec, seqNo uint32, ciphertext []byte) ([]byte, error) {
	if !c.haveSEK[slot] {
		return nil, errors.New("crypto: no SEK installed for key spec")
	}
	return c.cryptWith(c.seks[slot], seqNo, ciphertext, false)
}

func (c *Control) cryptWith(sek []byte, seqNo uint32, in []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(sek)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: cipher init")
	}
	iv := buildIV(c.salt, seqNo, 0)

	switch c.cipher {
	case CipherAESCTR:
		out := make([]byte, len(in))
		stream := cipher.NewCTR(block, iv[:])
		stream.XORKeyStream(out, in)
		return out, nil
	case CipherAESGCM:
		gcm, err := cipher.NewGCMWithNonceSize(block, 12)
		if err != nil {
			return nil, errors.Wrap(err, "crypto: GCM init")
		}
		nonce := iv[:12]
		if encrypt {
			return gcm.Seal(nil, nonce, in, nil), nil
		}
		out, err := gcm.Open(nil, nonce, in, nil)
		if err != nil {
			return nil, errors.Wrap(err, "crypto: GCM authentication failed")
		}
		return out, nil
	default:
		return nil, errors.New("crypto: unknown cipher")
	}
}
