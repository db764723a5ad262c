// Package main (cmd/admin) manages the sealing key shares that unlock a
// secure element agent started with sealing.threshold set.
//
// Commands:
//
//	status                    - Show whether the agent is locked and which shares it holds
//	generate-admin            - Generate an admin key pair
//	generate-admin-keys-file  - Write the admin keys file the agent loads
//	split-master-key          - Generate a master key and write one share file per admin
//	submit-share              - Sign and submit this admin's share
//
// Example workflow:
//
//  1. Each admin generates a key pair:
//     sea-admin generate-admin --admin-privkey-file=a1.pem --admin-pubkey-file=a1.pub
//
//  2. The operator lists the admins and splits a new master key 2-of-3:
//     sea-admin generate-admin-keys-file --admin-pubkey-files=a1.pub,a2.pub,a3.pub
//     sea-admin split-master-key --threshold=2 --total-shares=3
//
//  3. After every agent start, two admins submit their shares:
//     sea-admin submit-share --share-file=share-0.json
//
// Shares are signed with the admin key and the request itself is
// authenticated with the X-Admin-ID and X-Admin-Signature headers. The master
// key only exists in agent memory once reconstructed.
package main
