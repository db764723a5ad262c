package cryptoutils

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
	"github.com/ruteri/secure-element-agent/interfaces"
)

// ChallengeSize is the length of the challenge every provider binds into its
// token: the chip public key X||Y.
const ChallengeSize = 64

const (
	// MaxQuoteSize bounds TDX quotes including their certification data.
	MaxQuoteSize = 16384
	// MaxNitroDocumentSize bounds NSM attestation documents.
	MaxNitroDocumentSize = 16384
)

var (
	DCAPAttestation     = AttestationType{StringID: "tdx"}
	NitroAttestation    = AttestationType{StringID: "nitro"}
	SoftwareAttestation = AttestationType{StringID: "software"}
	RemoteAttestation   = AttestationType{StringID: "remote"}
	DummyAttestation    = AttestationType{StringID: "dummy"}
)

var ErrChallengeSize = errors.New("unsupported challenge size")

type AttestationType struct {
	StringID string
}

func AttestationTypeFromString(str string) (AttestationType, error) {
	switch str {
	case DCAPAttestation.StringID, "qemu-tdx":
		return DCAPAttestation, nil
	case NitroAttestation.StringID:
		return NitroAttestation, nil
	case SoftwareAttestation.StringID:
		return SoftwareAttestation, nil
	case RemoteAttestation.StringID:
		return RemoteAttestation, nil
	case DummyAttestation.StringID:
		return DummyAttestation, nil
	default:
		return AttestationType{}, fmt.Errorf("%w: attestation type %q", errors.ErrUnsupported, str)
	}
}

// AttestationOptions carries provider specific settings.
type AttestationOptions struct {
	// RemoteAddress is the base URL of a remote quote service.
	RemoteAddress string
	// SigningKey signs software tokens. A fresh key is generated when nil.
	SigningKey *ecdsa.PrivateKey
	// ImplementationID is embedded in software tokens.
	ImplementationID []byte
}

// NewAttestationProvider creates the provider for typ.
func NewAttestationProvider(typ AttestationType, opts AttestationOptions) (interfaces.AttestationProvider, error) {
	switch typ {
	case DCAPAttestation:
		return &DCAPAttestationProvider{}, nil
	case NitroAttestation:
		return &NitroAttestationProvider{}, nil
	case SoftwareAttestation:
		return NewSoftwareAttestationProvider(opts.SigningKey, opts.ImplementationID)
	case RemoteAttestation:
		if opts.RemoteAddress == "" {
			return nil, errors.New("remote attestation requires an address")
		}
		return &RemoteAttestationProvider{Address: opts.RemoteAddress}, nil
	case DummyAttestation:
		return DummyAttestationProvider{}, nil
	default:
		return nil, fmt.Errorf("%w: attestation type %q", errors.ErrUnsupported, typ.StringID)
	}
}

func checkChallenge(challengeLen int) error {
	if challengeLen != ChallengeSize {
		return fmt.Errorf("%w: %d", ErrChallengeSize, challengeLen)
	}
	return nil
}

// RemoteAttestationProvider fetches tokens from a quote service at
// <Address>/attest/<hex challenge>.
type RemoteAttestationProvider struct {
	Address string
	Client  *http.Client
}

func (*RemoteAttestationProvider) Name() string { return RemoteAttestation.StringID }

func (*RemoteAttestationProvider) TokenSize(challengeLen int) (int, error) {
	if err := checkChallenge(challengeLen); err != nil {
		return 0, err
	}
	return MaxQuoteSize, nil
}

func (p *RemoteAttestationProvider) Attest(challenge [64]byte) ([]byte, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(challenge[:]))
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(io.LimitReader(resp.Body, MaxQuoteSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	if len(rawQuote) > MaxQuoteSize {
		return nil, fmt.Errorf("remote quote exceeds %d bytes", MaxQuoteSize)
	}
	return rawQuote, nil
}

// DCAPAttestationProvider issues TDX quotes with the challenge as report data.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) Name() string { return DCAPAttestation.StringID }

func (DCAPAttestationProvider) TokenSize(challengeLen int) (int, error) {
	if err := checkChallenge(challengeLen); err != nil {
		return 0, err
	}
	return MaxQuoteSize, nil
}

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// NitroAttestationProvider requests NSM attestation documents with the
// challenge as user data.
type NitroAttestationProvider struct{}

func (NitroAttestationProvider) Name() string { return NitroAttestation.StringID }

func (NitroAttestationProvider) TokenSize(challengeLen int) (int, error) {
	if err := checkChallenge(challengeLen); err != nil {
		return 0, err
	}
	return MaxNitroDocumentSize, nil
}

func (NitroAttestationProvider) Attest(challenge [64]byte) ([]byte, error) {
	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open NSM session: %w", err)
	}
	defer sess.Close()

	res, err := sess.Send(&request.Attestation{
		UserData: challenge[:],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attestation from NSM: %w", err)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, errors.New("NSM returned empty attestation document")
	}
	return res.Attestation.Document, nil
}

// DummyAttestationProvider returns a readable placeholder token.
type DummyAttestationProvider struct{}

const dummyTokenPrefix = "Attestation for chip key "

func (DummyAttestationProvider) Name() string { return DummyAttestation.StringID }

func (DummyAttestationProvider) TokenSize(challengeLen int) (int, error) {
	if err := checkChallenge(challengeLen); err != nil {
		return 0, err
	}
	return len(dummyTokenPrefix) + 2*ChallengeSize, nil
}

func (DummyAttestationProvider) Attest(challenge [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("%s%x", dummyTokenPrefix, challenge)), nil
}

// VerifyDCAPAttestation verifies a TDX quote and its report data, returning
// the measurement registers by index.
func VerifyDCAPAttestation(reportData [64]byte, report []byte) (map[int]string, error) {
	protoQuote, err := tdx_abi.QuoteToProto(report)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote: %w", err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type: %T", protoQuote)
	}

	if err := verify.TdxQuote(protoQuote, verify.DefaultOptions()); err != nil {
		return nil, fmt.Errorf("quote verification failed: %w", err)
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return nil, fmt.Errorf("invalid report data %x, expected %x", v4Quote.TdQuoteBody.ReportData, reportData[:])
	}

	measurements := map[int]string{
		0: hex.EncodeToString(v4Quote.TdQuoteBody.MrTd),
		1: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[0]),
		2: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[1]),
		3: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[2]),
		4: hex.EncodeToString(v4Quote.TdQuoteBody.Rtmrs[3]),
		5: hex.EncodeToString(v4Quote.TdQuoteBody.MrConfigId),
		6: hex.EncodeToString(v4Quote.TdQuoteBody.MrOwner),
		7: hex.EncodeToString(v4Quote.TdQuoteBody.MrOwnerConfig),
	}

	return measurements, nil
}

var (
	_ interfaces.AttestationProvider = (*RemoteAttestationProvider)(nil)
	_ interfaces.AttestationProvider = DCAPAttestationProvider{}
	_ interfaces.AttestationProvider = NitroAttestationProvider{}
	_ interfaces.AttestationProvider = DummyAttestationProvider{}
)
