// Package main (cmd/agent) runs the secure element provisioning agent and
// drives a running agent from the command line.
//
// "serve" loads the YAML configuration, opens the object stores, creates the
// attestation provider and serves the agent API. Persistent keys are sealed
// with the configured master key, or with a key reconstructed from admin
// shares submitted to /admin/share (see cmd/admin). Until then the API
// answers 503 and /readyz reports "locked".
//
// Every other command calls the API of the agent at --agent-addr:
//
//	secure-element-agent chip-cert --out chip.cert
//	secure-element-agent activate --salt 00112233...
//	secure-element-agent rotate-field-key --secret ... --seed ...
//	secure-element-agent seal --data 000102...0f
//	secure-element-agent object get certificate 0x80A0 --out birth.der
//	secure-element-agent slot set rot_public_uid --data 0102030405060708 --lock
//
// "inspect-cert" works offline on a chip certificate file.
package main
