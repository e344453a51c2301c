package tokenmanager

import (
	"errors"
)

const minKeyLen = 32 // 256 bit

// Keys provides signing material
// Exactly one key signs new tokens, every returned verification key is
// accepted when parsing. Rotating keys means moving the old signing key into
// the verification set, so already issued tokens stay valid until expiry
type Keys interface {
	SigningKey() []byte
	VerificationKeys() [][]byte
}

// StaticKeys holds keys loaded once from configuration
type StaticKeys struct {
	current  []byte
	previous [][]byte
}

// NewStaticKeys builds a provider from the current signing key and any number
// of previous keys still accepted for verification
// Every key must be at least 256 bit long
func NewStaticKeys(current []byte, previous ...[]byte) (*StaticKeys, error) {
	if len(current) < minKeyLen {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	for _, k := range previous {
		if len(k) < minKeyLen {
			return nil, errors.New("verification key must be at least 32 bytes")
		}
	}

	return &StaticKeys{current: current, previous: previous}, nil
}

func (k *StaticKeys) SigningKey() []byte {
	return k.current
}

func (k *StaticKeys) VerificationKeys() [][]byte {
	keys := make([][]byte, 0, len(k.previous)+1)
	keys = append(keys, k.current)
	keys = append(keys, k.previous...)
	return keys
}
