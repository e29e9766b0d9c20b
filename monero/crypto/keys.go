package crypto

import (
	"errors"

	"git.gammaspectra.live/P2Pool/edwards25519"
	fasthex "github.com/tmthrgd/go-hex"
)

const PublicKeySize = 32
const PrivateKeySize = 32

var ZeroPublicKeyBytes PublicKeyBytes

type PrivateKeyBytes [PrivateKeySize]byte

func (k *PrivateKeyBytes) AsSlice() []byte {
	return (*k)[:]
}

func (k *PrivateKeyBytes) AsBytes() PrivateKeyBytes {
	return *k
}

// AsScalar returns nil if the bytes are not a canonical scalar
func (k *PrivateKeyBytes) AsScalar() *edwards25519.Scalar {
	if c, err := edwards25519.NewScalar().SetCanonicalBytes(k.AsSlice()); err != nil {
		return nil
	} else {
		return c
	}
}

func (k *PrivateKeyBytes) PublicKey() (result PublicKeyBytes) {
	s := k.AsScalar()
	if s == nil {
		return ZeroPublicKeyBytes
	}
	var p edwards25519.Point
	p.ScalarBaseMult(s)
	copy(result[:], p.Bytes())
	return result
}

func (k PrivateKeyBytes) String() string {
	return fasthex.EncodeToString(k[:])
}

func (k PrivateKeyBytes) MarshalJSON() ([]byte, error) {
	var buf [PrivateKeySize*2 + 2]byte
	buf[0] = '"'
	buf[PrivateKeySize*2+1] = '"'
	fasthex.Encode(buf[1:], k[:])
	return buf[:], nil
}

func (k *PrivateKeyBytes) UnmarshalJSON(b []byte) error {
	if len(b) != PrivateKeySize*2+2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("invalid private key")
	}
	_, err := fasthex.Decode(k[:], b[1:len(b)-1])
	return err
}

type PublicKeyBytes [PublicKeySize]byte

func (k *PublicKeyBytes) AsSlice() []byte {
	return (*k)[:]
}

func (k *PublicKeyBytes) AsBytes() PublicKeyBytes {
	return *k
}

// AsPoint returns nil if the bytes are not a valid point on the curve
func (k *PublicKeyBytes) AsPoint() *edwards25519.Point {
	if p, err := new(edwards25519.Point).SetBytes(k.AsSlice()); err != nil {
		return nil
	} else {
		return p
	}
}

func (k PublicKeyBytes) String() string {
	return fasthex.EncodeToString(k[:])
}

func (k PublicKeyBytes) MarshalJSON() ([]byte, error) {
	var buf [PublicKeySize*2 + 2]byte
	buf[0] = '"'
	buf[PublicKeySize*2+1] = '"'
	fasthex.Encode(buf[1:], k[:])
	return buf[:], nil
}

func (k *PublicKeyBytes) UnmarshalJSON(b []byte) error {
	if len(b) != PublicKeySize*2+2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("invalid public key")
	}
	_, err := fasthex.Decode(k[:], b[1:len(b)-1])
	return err
}

func PublicKeyFromPoint(p *edwards25519.Point) (result PublicKeyBytes) {
	copy(result[:], p.Bytes())
	return result
}

// CompareConsensusPublicKeyBytes consensus comparison, as little endian 256-bit values
func CompareConsensusPublicKeyBytes(a, b *PublicKeyBytes) int {
	for i := PublicKeySize - 1; i >= 0; i-- {
		aByte := a[i]
		bByte := b[i]

		if aByte > bByte {
			return 1
		} else if aByte < bByte {
			return -1
		}
	}

	return 0
}

type KeyPair struct {
	PrivateKey PrivateKeyBytes
	PublicKey  PublicKeyBytes
}

func NewKeyPairFromPrivate(privateKey PrivateKeyBytes) *KeyPair {
	return &KeyPair{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
	}
}

func PrivateKeyFromScalar(s *edwards25519.Scalar) (result PrivateKeyBytes) {
	copy(result[:], s.Bytes())
	return result
}
