package software

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
	"go.uber.org/atomic"
)

const (
	// VolatileHandleBase is the first handle issued for volatile keys.
	VolatileHandleBase interfaces.KeyHandle = 0x7FFF0000

	// MaxPersistentID is the highest id a persistent key may request.
	MaxPersistentID interfaces.KeyHandle = 0x3FFFFFFF
)

type key struct {
	attrs    interfaces.KeyAttributes
	ecc      *ecdsa.PrivateKey
	material []byte
}

func (k *key) wipe() {
	memguard.WipeBytes(k.material)
	k.material = nil
	k.ecc = nil
}

// Provider is an in-memory crypto provider.
type Provider struct {
	mu   sync.Mutex
	keys map[interfaces.KeyHandle]*key

	nextHandle atomic.Uint32

	persist *keyStore
	rand    io.Reader
	log     *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithKeyStore persists persistent keys into store, sealed by sealer.
func WithKeyStore(store interfaces.ObjectStore, sealer Sealer) Option {
	return func(p *Provider) { p.persist = &keyStore{store: store, sealer: sealer} }
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// WithRand replaces the entropy source, for tests.
func WithRand(r io.Reader) Option {
	return func(p *Provider) { p.rand = r }
}

// New creates an empty provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		keys: make(map[interfaces.KeyHandle]*key),
		rand: rand.Reader,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	p.nextHandle.Store(uint32(VolatileHandleBase))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateKey creates a P-256 key pair.
func (p *Provider) GenerateKey(attrs interfaces.KeyAttributes) (interfaces.KeyHandle, error) {
	if attrs.Type != interfaces.KeyTypeECCKeyPairP256 {
		return 0, fmt.Errorf("%w: generating %s keys", interfaces.ErrNotSupported, attrs.Type)
	}
	if attrs.Bits != 0 && attrs.Bits != 256 {
		return 0, fmt.Errorf("%w: P-256 key of %d bits", interfaces.ErrInvalidArgument, attrs.Bits)
	}
	attrs.Bits = 256

	priv, err := ecdsa.GenerateKey(elliptic.P256(), p.rand)
	if err != nil {
		return 0, err
	}
	return p.add(&key{attrs: attrs, ecc: priv})
}

// ImportKey creates a key from raw material. ECC key pairs are imported from
// SEC1 DER private keys.
func (p *Provider) ImportKey(attrs interfaces.KeyAttributes, material []byte) (interfaces.KeyHandle, error) {
	k, err := newKey(attrs, material)
	if err != nil {
		return 0, err
	}
	return p.add(k)
}

func newKey(attrs interfaces.KeyAttributes, material []byte) (*key, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("%w: empty key material", interfaces.ErrInvalidArgument)
	}
	if attrs.Bits != 0 && attrs.Type != interfaces.KeyTypeECCKeyPairP256 && attrs.Bits != len(material)*8 {
		return nil, fmt.Errorf("%w: %d bits requested, %d bytes supplied", interfaces.ErrInvalidArgument, attrs.Bits, len(material))
	}

	switch attrs.Type {
	case interfaces.KeyTypeDerive, interfaces.KeyTypeHMAC:
		attrs.Bits = len(material) * 8
		return &key{attrs: attrs, material: append([]byte(nil), material...)}, nil
	case interfaces.KeyTypeAES:
		switch len(material) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("%w: AES key of %d bytes", interfaces.ErrInvalidArgument, len(material))
		}
		attrs.Bits = len(material) * 8
		return &key{attrs: attrs, material: append([]byte(nil), material...)}, nil
	case interfaces.KeyTypeECCKeyPairP256:
		priv, err := x509.ParseECPrivateKey(material)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", interfaces.ErrInvalidArgument, err)
		}
		if priv.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: curve %s", interfaces.ErrNotSupported, priv.Curve.Params().Name)
		}
		attrs.Bits = 256
		return &key{attrs: attrs, ecc: priv}, nil
	default:
		return nil, fmt.Errorf("%w: importing %s keys", interfaces.ErrNotSupported, attrs.Type)
	}
}

// add assigns a handle to k and persists it when required.
func (p *Provider) add(k *key) (interfaces.KeyHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if k.attrs.Lifetime == interfaces.LifetimeVolatile {
		h := interfaces.KeyHandle(p.nextHandle.Inc() - 1)
		k.attrs.ID = h
		p.keys[h] = k
		return h, nil
	}

	id := k.attrs.ID
	if id == 0 || id > MaxPersistentID {
		return 0, fmt.Errorf("%w: persistent key id 0x%08x", interfaces.ErrInvalidArgument, uint32(id))
	}
	if _, err := p.getLocked(id); err == nil {
		return 0, fmt.Errorf("%w: 0x%08x", interfaces.ErrKeyExists, uint32(id))
	} else if !errors.Is(err, interfaces.ErrKeyNotFound) {
		return 0, err
	}
	if p.persist != nil {
		if err := p.persist.save(k); err != nil {
			return 0, fmt.Errorf("persisting key 0x%08x: %w", uint32(id), err)
		}
	}
	p.keys[id] = k
	p.log.Debug("Created persistent key", slog.String("id", fmt.Sprintf("0x%08x", uint32(id))))
	return id, nil
}

// getLocked returns the key of h, loading persistent keys on first use.
func (p *Provider) getLocked(h interfaces.KeyHandle) (*key, error) {
	if k, ok := p.keys[h]; ok {
		return k, nil
	}
	if h == 0 || h > MaxPersistentID || p.persist == nil {
		return nil, fmt.Errorf("%w: 0x%08x", interfaces.ErrKeyNotFound, uint32(h))
	}
	k, err := p.persist.load(h)
	if err != nil {
		return nil, err
	}
	p.keys[h] = k
	return k, nil
}

func (p *Provider) get(h interfaces.KeyHandle) (*key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getLocked(h)
}

// use returns the key of h after checking its type, usage and algorithm.
func (p *Provider) use(h interfaces.KeyHandle, typ interfaces.KeyType, usage interfaces.KeyUsage, alg interfaces.Algorithm) (*key, error) {
	k, err := p.get(h)
	if err != nil {
		return nil, err
	}
	if k.attrs.Type != typ {
		return nil, fmt.Errorf("%w: key 0x%08x is %s, want %s", interfaces.ErrInvalidArgument, uint32(h), k.attrs.Type, typ)
	}
	if !k.attrs.Usage.Has(usage) {
		return nil, fmt.Errorf("%w: usage", interfaces.ErrNotPermitted)
	}
	if k.attrs.Algorithm != alg {
		return nil, fmt.Errorf("%w: key algorithm %s, requested %s", interfaces.ErrNotPermitted, k.attrs.Algorithm, alg)
	}
	return k, nil
}

// ExportPublicKey returns the uncompressed public point of an ECC key.
func (p *Provider) ExportPublicKey(h interfaces.KeyHandle) ([]byte, error) {
	k, err := p.get(h)
	if err != nil {
		return nil, err
	}
	if k.ecc == nil {
		return nil, fmt.Errorf("%w: key 0x%08x has no public part", interfaces.ErrInvalidArgument, uint32(h))
	}
	pub, err := k.ecc.PublicKey.ECDH()
	if err != nil {
		return nil, err
	}
	return pub.Bytes(), nil
}

// RawKeyAgreement performs ECDH with a SEC1 uncompressed peer point.
func (p *Provider) RawKeyAgreement(alg interfaces.Algorithm, h interfaces.KeyHandle, peer []byte) ([]byte, error) {
	if alg != interfaces.AlgECDH {
		return nil, fmt.Errorf("%w: key agreement %s", interfaces.ErrNotSupported, alg)
	}
	k, err := p.use(h, interfaces.KeyTypeECCKeyPairP256, interfaces.UsageDerive, interfaces.AlgECDH)
	if err != nil {
		return nil, err
	}

	priv, err := k.ecc.ECDH()
	if err != nil {
		return nil, err
	}
	peerKey, err := ecdh.P256().NewPublicKey(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: peer key: %w", interfaces.ErrInvalidArgument, err)
	}
	return priv.ECDH(peerKey)
}

// MACCompute returns HMAC-SHA256 of data.
func (p *Provider) MACCompute(h interfaces.KeyHandle, alg interfaces.Algorithm, data []byte) ([]byte, error) {
	if alg != interfaces.AlgHMACSHA256 {
		return nil, fmt.Errorf("%w: mac %s", interfaces.ErrNotSupported, alg)
	}
	k, err := p.use(h, interfaces.KeyTypeHMAC, interfaces.UsageSignMessage, interfaces.AlgHMACSHA256)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, k.material)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (p *Provider) CipherEncrypt(h interfaces.KeyHandle, alg interfaces.Algorithm, iv, input []byte) ([]byte, error) {
	return p.cbc(h, alg, interfaces.UsageEncrypt, iv, input)
}

func (p *Provider) CipherDecrypt(h interfaces.KeyHandle, alg interfaces.Algorithm, iv, input []byte) ([]byte, error) {
	return p.cbc(h, alg, interfaces.UsageDecrypt, iv, input)
}

func (p *Provider) cbc(h interfaces.KeyHandle, alg interfaces.Algorithm, usage interfaces.KeyUsage, iv, input []byte) ([]byte, error) {
	if alg != interfaces.AlgCBCNoPadding {
		return nil, fmt.Errorf("%w: cipher %s", interfaces.ErrNotSupported, alg)
	}
	k, err := p.use(h, interfaces.KeyTypeAES, usage, interfaces.AlgCBCNoPadding)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv is %d bytes", interfaces.ErrInvalidArgument, len(iv))
	}
	if len(input)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: input of %d bytes is not block aligned", interfaces.ErrInvalidArgument, len(input))
	}

	block, err := aes.NewCipher(k.material)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(input))
	if usage == interfaces.UsageEncrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, input)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, input)
	}
	return out, nil
}

// SignHash returns an ASN.1 ECDSA signature over hash.
func (p *Provider) SignHash(h interfaces.KeyHandle, alg interfaces.Algorithm, hash []byte) ([]byte, error) {
	if alg != interfaces.AlgECDSASHA256 {
		return nil, fmt.Errorf("%w: signature %s", interfaces.ErrNotSupported, alg)
	}
	if len(hash) != sha256.Size {
		return nil, fmt.Errorf("%w: hash is %d bytes", interfaces.ErrInvalidArgument, len(hash))
	}
	k, err := p.use(h, interfaces.KeyTypeECCKeyPairP256, interfaces.UsageSignHash, interfaces.AlgECDSASHA256)
	if err != nil {
		return nil, err
	}
	return ecdsa.SignASN1(p.rand, k.ecc, hash)
}

func (p *Provider) KeyAttributes(h interfaces.KeyHandle) (interfaces.KeyAttributes, error) {
	k, err := p.get(h)
	if err != nil {
		return interfaces.KeyAttributes{}, err
	}
	return k.attrs, nil
}

// DestroyKey wipes a key. Persistent keys are also removed from the key store.
func (p *Provider) DestroyKey(h interfaces.KeyHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k, err := p.getLocked(h)
	if err != nil {
		return err
	}
	if k.attrs.Lifetime == interfaces.LifetimePersistent && p.persist != nil {
		if err := p.persist.delete(h); err != nil {
			return fmt.Errorf("removing persisted key 0x%08x: %w", uint32(h), err)
		}
	}
	k.wipe()
	delete(p.keys, h)
	return nil
}

func (p *Provider) GenerateRandom(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: random size %d", interfaces.ErrInvalidArgument, n)
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(p.rand, out); err != nil {
		return nil, err
	}
	return out, nil
}

// KeyCount returns the number of keys held in memory.
func (p *Provider) KeyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

var _ interfaces.CryptoProvider = (*Provider)(nil)
