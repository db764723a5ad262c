package keyring

import (
	"time"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// EndSession destroys every ephemeral slot and wipes any pending shared
// secret. The persistent field key is kept.
func (r *KeyRing) EndSession() (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	defer func() { r.observe("end_session", start, err) }()

	r.wipeSharedSecret()
	return r.teardown(interfaces.ChipSecretKey, interfaces.Volatile1, interfaces.Volatile2, interfaces.Volatile3)
}
