package software

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
	"golang.org/x/crypto/hkdf"
)

// KeyDerivationSetup starts an HKDF-SHA256 operation.
func (p *Provider) KeyDerivationSetup(alg interfaces.Algorithm) (interfaces.KeyDerivation, error) {
	if alg != interfaces.AlgHKDFSHA256 {
		return nil, fmt.Errorf("%w: key derivation %s", interfaces.ErrNotSupported, alg)
	}
	return &hkdfOperation{provider: p}, nil
}

// hkdfOperation accepts salt, secret and info in that order, each once.
type hkdfOperation struct {
	provider *Provider
	next     interfaces.DerivationStep
	salt     []byte
	secret   []byte
	info     []byte
	done     bool
}

func (op *hkdfOperation) expect(step interfaces.DerivationStep) error {
	if op.done {
		return fmt.Errorf("%w: operation finished", interfaces.ErrBadState)
	}
	want := op.next
	if want == 0 {
		want = interfaces.StepSalt
	}
	if step != want {
		return fmt.Errorf("%w: got %s input, want %s", interfaces.ErrBadState, step, want)
	}
	op.next = want + 1
	return nil
}

func (op *hkdfOperation) InputBytes(step interfaces.DerivationStep, data []byte) error {
	if err := op.expect(step); err != nil {
		return err
	}
	switch step {
	case interfaces.StepSalt:
		op.salt = append([]byte(nil), data...)
	case interfaces.StepSecret:
		op.secret = append([]byte(nil), data...)
	case interfaces.StepInfo:
		op.info = append([]byte(nil), data...)
	}
	return nil
}

// InputKey feeds the material of a derive key as the secret.
func (op *hkdfOperation) InputKey(step interfaces.DerivationStep, h interfaces.KeyHandle) error {
	if step != interfaces.StepSecret {
		return fmt.Errorf("%w: only the secret may come from a key", interfaces.ErrInvalidArgument)
	}
	k, err := op.provider.use(h, interfaces.KeyTypeDerive, interfaces.UsageDerive, interfaces.AlgHKDFSHA256)
	if err != nil {
		return err
	}
	if err := op.expect(step); err != nil {
		return err
	}
	op.secret = append([]byte(nil), k.material...)
	return nil
}

// OutputKey expands attrs.Bits of key material into a new key.
func (op *hkdfOperation) OutputKey(attrs interfaces.KeyAttributes) (interfaces.KeyHandle, error) {
	if op.done || op.next != interfaces.StepInfo+1 {
		return 0, fmt.Errorf("%w: inputs incomplete", interfaces.ErrBadState)
	}
	if attrs.Bits <= 0 || attrs.Bits%8 != 0 {
		return 0, fmt.Errorf("%w: output of %d bits", interfaces.ErrInvalidArgument, attrs.Bits)
	}

	material := make([]byte, attrs.Bits/8)
	defer memguard.WipeBytes(material)
	if _, err := io.ReadFull(hkdf.New(sha256.New, op.secret, op.salt, op.info), material); err != nil {
		return 0, err
	}
	op.done = true

	return op.provider.ImportKey(attrs, material)
}

func (op *hkdfOperation) Abort() error {
	memguard.WipeBytes(op.secret)
	op.salt, op.secret, op.info = nil, nil, nil
	op.done = true
	return nil
}
