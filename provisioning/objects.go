package provisioning

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ruteri/secure-element-agent/cryptoutils"
	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/keyring"
	"github.com/ruteri/secure-element-agent/storage"
)

func checkObject(typ interfaces.ObjectType, id interfaces.ObjectID) error {
	if typ != interfaces.ObjectTypeData && typ != interfaces.ObjectTypeCertificate {
		return paramError("object type %s cannot be managed", typ)
	}
	if id == 0 {
		return paramError("object id 0 is reserved")
	}
	return nil
}

// GetObject reads a data or certificate object.
func (a *Agent) GetObject(ctx context.Context, typ interfaces.ObjectType, id interfaces.ObjectID) ([]byte, error) {
	if err := checkObject(typ, id); err != nil {
		return nil, err
	}
	return a.store.Get(ctx, typ, id)
}

// SetObject creates or replaces a data or certificate object.
func (a *Agent) SetObject(ctx context.Context, typ interfaces.ObjectType, id interfaces.ObjectID, data []byte) error {
	if err := checkObject(typ, id); err != nil {
		return err
	}
	if len(data) == 0 {
		return paramError("empty object")
	}
	if err := a.store.Set(ctx, typ, id, data); err != nil {
		return fmt.Errorf("storing %s %s: %w", typ, id, err)
	}
	a.log.Info("Stored object", "type", typ.String(), "id", id.String(), "size", len(data))
	return nil
}

// DeleteObject removes a data or certificate object.
func (a *Agent) DeleteObject(ctx context.Context, typ interfaces.ObjectType, id interfaces.ObjectID) error {
	if err := checkObject(typ, id); err != nil {
		return err
	}
	if err := a.store.Delete(ctx, typ, id); err != nil {
		return fmt.Errorf("deleting %s %s: %w", typ, id, err)
	}
	a.log.Info("Deleted object", "type", typ.String(), "id", id.String())
	return nil
}

// SetObjectWithAssociation stores data framed with its association as a data
// object.
func (a *Agent) SetObjectWithAssociation(ctx context.Context, id interfaces.ObjectID, assoc storage.Association, data []byte) error {
	if !assoc.ObjectType.Valid() {
		return paramError("associated object type %d", assoc.ObjectType)
	}
	blob, err := storage.EncodeAssociatedObject(assoc, data)
	if err != nil {
		return fmt.Errorf("%w: %w", keyring.ErrParameter, err)
	}
	return a.SetObject(ctx, interfaces.ObjectTypeData, id, blob)
}

// GetObjectWithAssociation reads an object stored by SetObjectWithAssociation.
func (a *Agent) GetObjectWithAssociation(ctx context.Context, id interfaces.ObjectID) (storage.Association, []byte, error) {
	blob, err := a.GetObject(ctx, interfaces.ObjectTypeData, id)
	if err != nil {
		return storage.Association{}, nil, err
	}
	return storage.DecodeAssociatedObject(blob)
}

// InstallBirthCertificate stores a DER or PEM birth certificate where chip
// certificate assembly reads it.
func (a *Agent) InstallBirthCertificate(ctx context.Context, cert []byte) error {
	der, parsed, err := cryptoutils.ParseBirthCertificate(cert)
	if err != nil {
		return fmt.Errorf("%w: %w", keyring.ErrParameter, err)
	}
	if len(der) > math.MaxUint16 {
		return paramError("birth certificate is %d bytes, max %d", len(der), math.MaxUint16)
	}
	if err := a.store.Set(ctx, interfaces.ObjectTypeCertificate, keyring.BirthCertificateObjectID, der); err != nil {
		return fmt.Errorf("storing birth certificate: %w", err)
	}
	a.log.Info("Installed birth certificate", "subject", parsed.Subject.String())
	return nil
}

// IsNotFound reports whether err means a missing object or slot.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrObjectNotFound) || errors.Is(err, keyring.ErrNotFound)
}
