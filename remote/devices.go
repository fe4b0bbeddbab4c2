package remote

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/scille/parsec-core/ids"
)

// DeviceDirectory is the Remote Devices Manager named throughout §4.2: the
// component that resolves a device's verify key, normally by fetching and
// locally caching the user certificate chain from the realm service. The
// loader only needs the read side of it.
type DeviceDirectory interface {
	VerifyKey(ctx context.Context, device ids.DeviceID, at time.Time) (ed25519.PublicKey, error)
}
