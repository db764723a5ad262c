package keyring

import (
	"encoding/binary"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/interfaces"
)

// HandleSize is the length of a native handle as stored in the table.
const HandleSize = 4

type tableEntry struct {
	id     interfaces.VirtualKeyID
	handle [HandleSize]byte
	key    *NativeKey
}

// Table maps each virtual key id to native handle bytes. It holds exactly one
// entry per id and never grows.
type Table struct {
	entries [len(interfaces.VirtualKeyIDs)]tableEntry
}

// NewTable returns a table with every slot empty.
func NewTable() *Table {
	t := &Table{}
	for i, id := range interfaces.VirtualKeyIDs {
		t.entries[i].id = id
	}
	return t
}

func (t *Table) entry(id interfaces.VirtualKeyID) (*tableEntry, error) {
	for i := range t.entries {
		if t.entries[i].id == id {
			return &t.entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Set overwrites the handle bytes of id, zeroing the previous contents first.
// Set does not destroy the key previously referenced by the slot.
func (t *Table) Set(id interfaces.VirtualKeyID, handle []byte) error {
	e, err := t.entry(id)
	if err != nil {
		return err
	}
	if len(handle) > HandleSize {
		return fmt.Errorf("%w: handle is %d bytes, slot holds %d", ErrParameter, len(handle), HandleSize)
	}
	memguard.WipeBytes(e.handle[:])
	copy(e.handle[:], handle)
	e.key = nil
	return nil
}

// Get copies exactly len(out) bytes of the handle stored for id into out.
func (t *Table) Get(id interfaces.VirtualKeyID, out []byte) error {
	e, err := t.entry(id)
	if err != nil {
		return err
	}
	if len(out) > HandleSize {
		return fmt.Errorf("%w: requested %d bytes, slot holds %d", ErrParameter, len(out), HandleSize)
	}
	copy(out, e.handle[:len(out)])
	return nil
}

// Handle decodes the native handle stored for id. An empty slot yields zero.
func (t *Table) Handle(id interfaces.VirtualKeyID) (interfaces.KeyHandle, error) {
	var buf [HandleSize]byte
	if err := t.Get(id, buf[:]); err != nil {
		return 0, err
	}
	return interfaces.KeyHandle(binary.BigEndian.Uint32(buf[:])), nil
}

// bind stores key under id and records ownership of it.
func (t *Table) bind(id interfaces.VirtualKeyID, key *NativeKey) error {
	if err := t.Set(id, key.Bytes()); err != nil {
		return err
	}
	e, _ := t.entry(id)
	e.key = key
	return nil
}

// key returns the owned key of id, or nil if the slot is empty or only holds
// raw handle bytes.
func (t *Table) key(id interfaces.VirtualKeyID) *NativeKey {
	e, err := t.entry(id)
	if err != nil || e.key == nil || e.key.Destroyed() {
		return nil
	}
	return e.key
}

func (t *Table) clear(id interfaces.VirtualKeyID) {
	e, err := t.entry(id)
	if err != nil {
		return
	}
	memguard.WipeBytes(e.handle[:])
	e.key = nil
}
