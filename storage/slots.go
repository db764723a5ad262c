package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// Slot identifies a fixed-length device record.
type Slot uint32

const (
	SlotLifeCycleState Slot = iota + 1
	SlotL1KeyMaterial
	SlotRoTPublicUID
	SlotSealedData
	// SlotVersion is accepted for compatibility and not stored.
	SlotVersion
)

var slotLengths = map[Slot]int{
	SlotLifeCycleState: 4,
	SlotL1KeyMaterial:  17,
	SlotRoTPublicUID:   8,
	SlotSealedData:     133,
}

// slotObjectBase places slot records in the custom object namespace.
const slotObjectBase interfaces.ObjectID = 0x4B530000

var (
	ErrUnknownSlot       = errors.New("unknown storage slot")
	ErrInvalidSlotLength = errors.New("invalid storage slot length")
)

func (s Slot) String() string {
	switch s {
	case SlotLifeCycleState:
		return "life_cycle_state"
	case SlotL1KeyMaterial:
		return "l1_key_material"
	case SlotRoTPublicUID:
		return "rot_public_uid"
	case SlotSealedData:
		return "sealed_data"
	case SlotVersion:
		return "version"
	default:
		return fmt.Sprintf("slot(%d)", uint32(s))
	}
}

// Length returns the exact record length of s, or 0 for the version slot.
func (s Slot) Length() int {
	return slotLengths[s]
}

// Slots stores the device records on top of an object store.
type Slots struct {
	store interfaces.ObjectStore
	log   *slog.Logger
}

func NewSlots(store interfaces.ObjectStore, log *slog.Logger) *Slots {
	return &Slots{store: store, log: log}
}

func (s *Slots) check(slot Slot, n int) error {
	if slot == SlotVersion {
		return nil
	}
	want, ok := slotLengths[slot]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, uint32(slot))
	}
	if n != want {
		return fmt.Errorf("%w: %s takes %d bytes, got %d", ErrInvalidSlotLength, slot, want, n)
	}
	return nil
}

// Set writes the life cycle state, L1 key material or version slot.
func (s *Slots) Set(ctx context.Context, slot Slot, data []byte) error {
	switch slot {
	case SlotLifeCycleState, SlotL1KeyMaterial, SlotVersion:
	case SlotRoTPublicUID, SlotSealedData:
		return fmt.Errorf("%w: %s is written with SetAndLock", ErrUnknownSlot, slot)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownSlot, uint32(slot))
	}
	return s.write(ctx, slot, data)
}

// SetAndLock writes the RoT public UID or sealed data slot.
func (s *Slots) SetAndLock(ctx context.Context, slot Slot, data []byte) error {
	if slot != SlotRoTPublicUID && slot != SlotSealedData {
		return fmt.Errorf("%w: %s cannot be locked", ErrUnknownSlot, slot)
	}
	return s.write(ctx, slot, data)
}

func (s *Slots) write(ctx context.Context, slot Slot, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty %s", ErrInvalidSlotLength, slot)
	}
	if err := s.check(slot, len(data)); err != nil {
		return err
	}
	if slot == SlotVersion {
		s.log.Debug("Ignoring version slot write")
		return nil
	}
	if err := s.store.Set(ctx, interfaces.ObjectTypeCustom, slotObjectBase+interfaces.ObjectID(slot), data); err != nil {
		return fmt.Errorf("writing %s: %w", slot, err)
	}
	return nil
}

// Get reads a slot. The version slot always reads as empty.
func (s *Slots) Get(ctx context.Context, slot Slot) ([]byte, error) {
	if slot == SlotVersion {
		return nil, nil
	}
	if _, ok := slotLengths[slot]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSlot, uint32(slot))
	}

	data, err := s.store.Get(ctx, interfaces.ObjectTypeCustom, slotObjectBase+interfaces.ObjectID(slot))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", slot, err)
	}
	if err := s.check(slot, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// ParseSlot accepts a slot name or its decimal value.
func ParseSlot(s string) (Slot, error) {
	for slot := SlotLifeCycleState; slot <= SlotVersion; slot++ {
		if s == slot.String() {
			return slot, nil
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || Slot(n) < SlotLifeCycleState || Slot(n) > SlotVersion {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSlot, s)
	}
	return Slot(n), nil
}
