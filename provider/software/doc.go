// Package software implements interfaces.CryptoProvider in process.
//
// Keys live in memory and carry the attributes they were created with; every
// operation checks type, usage and algorithm the way a PSA crypto
// implementation does. Volatile keys get handles from the volatile range.
// Persistent keys take the id requested in their attributes and, when the
// provider has a key store, are sealed into it as object type Key so they
// survive restarts.
package software
