// Package storage provides the object store the agent keeps certificates,
// sealed keys and provisioning data in, with pluggable backends.
//
// Objects are addressed by (interfaces.ObjectType, interfaces.ObjectID) and
// are opaque byte strings. Backends:
//
//   - In-memory storage for tests and ephemeral agents
//   - File system storage, one file per object
//   - Embedded SQLite storage (the agent default)
//   - S3-compatible storage for cloud deployments
//   - IPFS storage through the node's mutable file system
//   - Vault KV v2 storage
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - memory://
//   - file:///var/lib/sea/objects/
//   - sqlite:///var/lib/sea/objects.db
//   - sqlite::memory:
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://127.0.0.1:5001/sea
//   - vault://vault.example.com:8200/secret/sea?tls=true
//
// # Multi-Backend Storage
//
// MultiStore reads from the first backend holding an object and writes to
// all available backends.
//
// # Objects with association
//
// EncodeAssociatedObject and DecodeAssociatedObject frame an object with the
// 19-byte association header naming the key and object it belongs to.
//
// # Storage slots
//
// Slots stores the fixed-length device records (life cycle state, L1 key
// material, RoT public UID, sealed data) on top of an object store.
package storage
