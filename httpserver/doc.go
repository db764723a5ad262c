/*
Package httpserver exposes a provisioning agent over a local HTTP API.

# Agent API

All calls live under /api/v1. JSON bodies carry buffers as base64; objects,
slots and chip certificates travel as raw bytes.

	POST   /api/v1/chip-certificate        new chip certificate (octet-stream)
	PUT    /api/v1/birth-certificate       install a DER or PEM birth certificate
	POST   /api/v1/activate                {"salt"}
	POST   /api/v1/field-key               {"secret", "segmentation_seed"}
	POST   /api/v1/field-session           session keys from the stored field key
	POST   /api/v1/dos-secret              {"public_key", "secret"}
	POST   /api/v1/messages/seal           {"data"} -> {"data"}
	POST   /api/v1/messages/open           {"data"} -> {"data"}
	GET    /api/v1/random/{n}              {"data"}
	GET    /api/v1/chip-uid                {"uid"}
	POST   /api/v1/session/end
	GET|PUT|DELETE /api/v1/objects/{type}/{id}
	GET|PUT        /api/v1/slots/{slot}[?lock=true]

Parameter errors map to 400, missing objects to 404, a stage run before
its key slot was filled to 409 and every other failure to 500. Until the sealing key is unlocked the API answers 503.

# Admin API

When the sealing key is held as Shamir shares the agent starts locked and
mounts /admin:

	GET  /admin/status   state, threshold and received share indices
	POST /admin/share    {"share_index", "share", "signature"}

Share submissions are authenticated with the X-Admin-ID and
X-Admin-Signature headers (ECDSA over SHA-256 of path and body), and every
share carries its own kms.SignShare signature.

# Operations

/livez, /readyz, /drain and /undrain report health and take the agent out of
rotation. /debug serves pprof when enabled.
*/
package httpserver
