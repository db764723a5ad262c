// Package interfaces defines the contracts between the secure element agent's
// components, separating interface definitions from implementations.
//
// # Key Model
//
// VirtualKeyID names one of five fixed key slots (ChipSecretKey, Volatile1,
// Volatile2, Volatile3, PersistentFieldKey). A slot references a KeyHandle, the
// opaque native key identifier issued by a CryptoProvider. KeyAttributes
// describe the type, size, permitted usage, algorithm and lifetime a provider
// enforces for a key.
//
// # Provider Interfaces
//
// CryptoProvider: PSA-style capability set used by the key ring: key generation,
// public key export, raw key agreement, key import, multi-step key derivation,
// MAC, symmetric cipher, hash signing, key destruction and random generation.
//
// AttestationProvider: issues an attestation token binding a 64-byte challenge
// (the chip public key) to the device identity.
//
// # Storage Interfaces
//
// ObjectStore: get/set/delete of opaque objects addressed by (ObjectType,
// ObjectID) across multiple backend types (memory, file, SQLite, S3, IPFS, Vault).
//
// ObjectStoreFactory: creates object stores from location URIs and aggregates
// several of them into a fallback store.
package interfaces
