// Package cryptoutils provides attestation token providers and certificate
// helpers for chip certificates.
//
// # Attestation providers
//
// Every provider implements interfaces.AttestationProvider over a 64-byte
// challenge, the chip public key X||Y:
//
//   - software: a PSA style COSE_Sign1 token (ES256) whose claims carry the
//     challenge, instance id, implementation id, life cycle and profile
//   - tdx: a TDX DCAP quote with the challenge as report data
//   - nitro: an AWS Nitro NSM attestation document with the challenge as user data
//   - remote: a quote fetched from <address>/attest/<hex challenge>
//   - dummy: a readable placeholder for tests
//
// TokenSize reports the largest token a provider issues so callers can size
// the length prefix of the chip certificate.
//
// # Birth certificates
//
// ParseBirthCertificate accepts DER or PEM. CreateBirthCertificate and
// SelfSignedBirthCertificate issue certificates for devices.
package cryptoutils
