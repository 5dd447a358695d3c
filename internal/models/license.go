package models

import "time"

// UnboundFingerprint is the sentinel stored in BoundFingerprint until a
// license has been activated by its first device.
const UnboundFingerprint = "UNBOUND"

// License represents one issued license credential. The activation key is
// an opaque random token handed to the customer; the fingerprint identifies
// the device that first presented it.
type License struct {
	ID               string
	ActivationKey    string
	BoundFingerprint string
	ActivatedAt      *time.Time // nil until the key is bound
	Company          string
	CreatedAt        time.Time
}

// Bound reports whether the license has been activated on a device.
func (l *License) Bound() bool {
	return l.BoundFingerprint != UnboundFingerprint
}
