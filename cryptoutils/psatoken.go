package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/secure-element-agent/interfaces"
)

const (
	// PSAProfile identifies the claim set of software tokens.
	PSAProfile = "http://arm.com/psa/2.0.0"

	coseSign1Tag = 18
	coseAlgES256 = -7
	coseAlgLabel = 1

	es256SignatureSize = 64

	// instanceIDTypeRandom prefixes a PSA instance id derived from a key hash.
	instanceIDTypeRandom = 0x01
)

// Security life cycle values of PSA tokens.
const (
	LifeCycleSecured = 0x3000
)

var ErrInvalidToken = errors.New("invalid attestation token")

// PSAClaims is the claim set of a software attestation token.
type PSAClaims struct {
	Profile          string `cbor:"-75000,keyasint"`
	LifeCycle        int    `cbor:"-75002,keyasint"`
	ImplementationID []byte `cbor:"-75003,keyasint"`
	Challenge        []byte `cbor:"-75008,keyasint"`
	InstanceID       []byte `cbor:"-75009,keyasint"`
}

type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]any
	Payload     []byte
	Signature   []byte
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// SoftwareAttestationProvider issues COSE_Sign1 tokens signed with ES256 by
// an instance key held in process memory.
type SoftwareAttestationProvider struct {
	key              *ecdsa.PrivateKey
	implementationID []byte
	instanceID       []byte
}

// NewSoftwareAttestationProvider creates a provider for key, generating one
// when key is nil.
func NewSoftwareAttestationProvider(key *ecdsa.PrivateKey, implementationID []byte) (*SoftwareAttestationProvider, error) {
	if key == nil {
		var err error
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating instance key: %w", err)
		}
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: instance key must be P-256", errors.ErrUnsupported)
	}
	if len(implementationID) == 0 {
		implementationID = make([]byte, 32)
	}

	return &SoftwareAttestationProvider{
		key:              key,
		implementationID: append([]byte(nil), implementationID...),
		instanceID:       InstanceID(&key.PublicKey),
	}, nil
}

// InstanceID returns the PSA instance id of pub: a type byte followed by the
// SHA-256 of the uncompressed point.
func InstanceID(pub *ecdsa.PublicKey) []byte {
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(ecdhPub.Bytes())
	return append([]byte{instanceIDTypeRandom}, sum[:]...)
}

func (p *SoftwareAttestationProvider) Name() string { return SoftwareAttestation.StringID }

// PublicKey returns the key tokens are verified with.
func (p *SoftwareAttestationProvider) PublicKey() *ecdsa.PublicKey {
	return &p.key.PublicKey
}

// TokenSize returns the exact token length; claims and signature are fixed size.
func (p *SoftwareAttestationProvider) TokenSize(challengeLen int) (int, error) {
	if err := checkChallenge(challengeLen); err != nil {
		return 0, err
	}
	token, err := p.encode(make([]byte, challengeLen), func([]byte) ([]byte, error) {
		return make([]byte, es256SignatureSize), nil
	})
	if err != nil {
		return 0, err
	}
	return len(token), nil
}

func (p *SoftwareAttestationProvider) Attest(challenge [64]byte) ([]byte, error) {
	return p.encode(challenge[:], p.sign)
}

func (p *SoftwareAttestationProvider) claims(challenge []byte) PSAClaims {
	return PSAClaims{
		Profile:          PSAProfile,
		LifeCycle:        LifeCycleSecured,
		ImplementationID: p.implementationID,
		Challenge:        challenge,
		InstanceID:       p.instanceID,
	}
}

func (p *SoftwareAttestationProvider) encode(challenge []byte, sign func([]byte) ([]byte, error)) ([]byte, error) {
	payload, err := encMode.Marshal(p.claims(challenge))
	if err != nil {
		return nil, fmt.Errorf("encoding claims: %w", err)
	}
	protected, err := protectedHeader()
	if err != nil {
		return nil, err
	}
	tbs, err := sigStructure(protected, payload)
	if err != nil {
		return nil, err
	}
	sig, err := sign(tbs)
	if err != nil {
		return nil, err
	}

	return encMode.Marshal(cbor.Tag{
		Number: coseSign1Tag,
		Content: coseSign1{
			Protected:   protected,
			Unprotected: map[int]any{},
			Payload:     payload,
			Signature:   sig,
		},
	})
}

// sign returns the fixed size r||s ES256 signature of tbs.
func (p *SoftwareAttestationProvider) sign(tbs []byte) ([]byte, error) {
	digest := sha256.Sum256(tbs)
	r, s, err := ecdsa.Sign(rand.Reader, p.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	sig := make([]byte, es256SignatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

func protectedHeader() ([]byte, error) {
	return encMode.Marshal(map[int]int{coseAlgLabel: coseAlgES256})
}

func sigStructure(protected, payload []byte) ([]byte, error) {
	return encMode.Marshal([]any{"Signature1", protected, []byte{}, payload})
}

// VerifySoftwareToken checks a software token against pub and the expected
// challenge and returns its claims.
func VerifySoftwareToken(token []byte, pub *ecdsa.PublicKey, challenge []byte) (*PSAClaims, error) {
	claims, err := ParseSoftwareToken(token, pub)
	if err != nil {
		return nil, err
	}
	if string(claims.Challenge) != string(challenge) {
		return nil, fmt.Errorf("%w: challenge mismatch", ErrInvalidToken)
	}
	return claims, nil
}

// ParseSoftwareToken checks the signature and profile of a software token and
// returns its claims without checking the challenge.
func ParseSoftwareToken(token []byte, pub *ecdsa.PublicKey) (*PSAClaims, error) {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(token, &tag); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if tag.Number != coseSign1Tag {
		return nil, fmt.Errorf("%w: tag %d is not COSE_Sign1", ErrInvalidToken, tag.Number)
	}

	var msg coseSign1
	if err := cbor.Unmarshal(tag.Content, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var header map[int]int
	if err := cbor.Unmarshal(msg.Protected, &header); err != nil {
		return nil, fmt.Errorf("%w: protected header: %w", ErrInvalidToken, err)
	}
	if header[coseAlgLabel] != coseAlgES256 {
		return nil, fmt.Errorf("%w: algorithm %d", ErrInvalidToken, header[coseAlgLabel])
	}
	if len(msg.Signature) != es256SignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes", ErrInvalidToken, len(msg.Signature))
	}

	tbs, err := sigStructure(msg.Protected, msg.Payload)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(tbs)
	r := new(big.Int).SetBytes(msg.Signature[:32])
	s := new(big.Int).SetBytes(msg.Signature[32:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidToken)
	}

	var claims PSAClaims
	if err := cbor.Unmarshal(msg.Payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %w", ErrInvalidToken, err)
	}
	if claims.Profile != PSAProfile {
		return nil, fmt.Errorf("%w: profile %q", ErrInvalidToken, claims.Profile)
	}
	return &claims, nil
}

var _ interfaces.AttestationProvider = (*SoftwareAttestationProvider)(nil)
