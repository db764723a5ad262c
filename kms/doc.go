// Package kms manages the sealing master key of the agent.
//
// Keys with persistent lifetime, such as the field key, leave the crypto
// provider only in sealed form. Sealing keys are derived per purpose from a
// master key that the kms package holds in memory.
//
// # SealingKMS
//
// Derives a 256-bit AES-GCM key per purpose from the master key with
// HKDF-SHA256 and seals or opens records with it.
//
// # ShamirKMS
//
// Keeps the master key as Shamir shares held by administrators. The agent
// starts locked; once a threshold of shares signed by registered admin keys
// has been submitted the master key is reconstructed and a SealingKMS becomes
// available. The master key is never written to storage.
package kms
