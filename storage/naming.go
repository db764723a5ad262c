package storage

import (
	"fmt"

	"github.com/ruteri/secure-element-agent/interfaces"
)

// objectKey returns the backend independent name of an object, e.g.
// "certificate/000080a0".
func objectKey(objectType interfaces.ObjectType, id interfaces.ObjectID) string {
	return fmt.Sprintf("%s/%08x", objectType, uint32(id))
}

func validateObjectType(objectType interfaces.ObjectType) error {
	if !objectType.Valid() {
		return fmt.Errorf("unsupported object type: %d", objectType)
	}
	return nil
}
