// Package provisioning runs the device side of trust provisioning on top of
// a keyring.KeyRing.
//
// Flows:
//
//   - chip certificate: a new chip key pair and its attested certificate
//   - activation: session keys agreed with the provisioning server
//   - field key rotation: a new persistent field key and its session keys
//   - DoS secret: a pre-shared secret exposed to the caller
//
// Protected messages are ciphertext || mac16 under the session keys. The
// agent also manages data and certificate objects and the device storage
// slots.
package provisioning
