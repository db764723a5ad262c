package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ruteri/secure-element-agent/interfaces"
)

const (
	// AssociationHeaderSize is the length of the header preceding object data.
	AssociationHeaderSize = 19

	// MaxAssociatedObjectSize bounds header plus data.
	MaxAssociatedObjectSize = 520

	// MaxAssociatedDataSize bounds the data of an associated object.
	MaxAssociatedDataSize = MaxAssociatedObjectSize - AssociationHeaderSize
)

var ErrInvalidAssociation = errors.New("invalid object association")

// Association names the key and object a stored object belongs to. The
// deprecated ids are carried for older provisioning servers.
type Association struct {
	KeyID              uint32
	KeyIDDeprecated    uint32
	ObjectID           uint32
	ObjectIDDeprecated uint32
	ObjectType         interfaces.ObjectType
}

// EncodeAssociatedObject frames data as
//
//	keyId | keyIdDeprecated | objectId | objectIdDeprecated | objectType | dataLen | data
//
// with 4-byte big endian ids, a 1-byte type and a 2-byte big endian length.
func EncodeAssociatedObject(assoc Association, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > MaxAssociatedDataSize {
		return nil, fmt.Errorf("%w: data is %d bytes, want 1..%d", ErrInvalidAssociation, len(data), MaxAssociatedDataSize)
	}

	out := make([]byte, 0, AssociationHeaderSize+len(data))
	out = binary.BigEndian.AppendUint32(out, assoc.KeyID)
	out = binary.BigEndian.AppendUint32(out, assoc.KeyIDDeprecated)
	out = binary.BigEndian.AppendUint32(out, assoc.ObjectID)
	out = binary.BigEndian.AppendUint32(out, assoc.ObjectIDDeprecated)
	out = append(out, byte(assoc.ObjectType))
	out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	return append(out, data...), nil
}

// DecodeAssociatedObject reverses EncodeAssociatedObject.
func DecodeAssociatedObject(blob []byte) (Association, []byte, error) {
	if len(blob) < AssociationHeaderSize {
		return Association{}, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidAssociation, len(blob))
	}

	assoc := Association{
		KeyID:              binary.BigEndian.Uint32(blob[0:4]),
		KeyIDDeprecated:    binary.BigEndian.Uint32(blob[4:8]),
		ObjectID:           binary.BigEndian.Uint32(blob[8:12]),
		ObjectIDDeprecated: binary.BigEndian.Uint32(blob[12:16]),
		ObjectType:         interfaces.ObjectType(blob[16]),
	}
	n := int(binary.BigEndian.Uint16(blob[17:19]))
	if len(blob)-AssociationHeaderSize < n {
		return Association{}, nil, fmt.Errorf("%w: data length %d exceeds %d stored bytes", ErrInvalidAssociation, n, len(blob)-AssociationHeaderSize)
	}
	return assoc, blob[AssociationHeaderSize : AssociationHeaderSize+n], nil
}
