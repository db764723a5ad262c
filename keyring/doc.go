// Package keyring implements the virtual key table and the staged key
// lifecycle that the provisioning flows are built on.
//
// A KeyRing owns five fixed key slots and a transient shared secret. The
// stages run in a fixed chain:
//
//	KeyAgreement (ECDH) -> DeriveHKDF -> DeriveMAC -> Cipher / HMAC
//
// Activation starts from the chip secret key created by ChipCertificate and
// keeps the ECDH secret internal; field key rotation starts from a caller
// secret and writes the persistent field key slot. Every stage is fail-fast:
// the first provider error aborts the stage and whatever keys were already
// destroyed or replaced stay that way.
//
// All methods serialize on the ring's mutex. Callers chaining several stages
// into one flow must additionally serialize flows against each other.
package keyring
