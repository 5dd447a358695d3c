// Package license implements the activation protocol: the rule set that
// binds an issued activation key to exactly one device fingerprint on first
// use and rejects later use from any other device.
package license

import (
	"github.com/keymint/keymint/internal/models"
)

// Status classifies the outcome of a license check. The transport layer
// maps these to response codes.
type Status string

const (
	StatusNotFound  Status = "not-found"
	StatusActivated Status = "activated"
	StatusValidated Status = "validated"
	StatusMismatch  Status = "mismatch"
	StatusError     Status = "internal-error"
)

// Verdict is the result of evaluating a check request.
type Verdict struct {
	Status  Status
	Valid   bool
	Message string
}

var verdicts = map[Status]Verdict{
	StatusNotFound:  {Status: StatusNotFound, Valid: false, Message: "license does not exist"},
	StatusActivated: {Status: StatusActivated, Valid: true, Message: "license activated"},
	StatusValidated: {Status: StatusValidated, Valid: true, Message: "license validated"},
	StatusMismatch:  {Status: StatusMismatch, Valid: false, Message: "fingerprint mismatch, license invalid"},
	StatusError:     {Status: StatusError, Valid: false, Message: "internal server error"},
}

// VerdictFor returns the canonical verdict for a status.
func VerdictFor(status Status) Verdict {
	return verdicts[status]
}

// Evaluate applies the activation transition table to a license record and
// an incoming fingerprint. A nil record means the key was never issued.
//
//	UNKNOWN      -> not-found
//	UNBOUND      -> activated (caller must commit the bind)
//	BOUND, match -> validated
//	BOUND, other -> mismatch
//
// The table is total over the three states, so every request gets a
// deterministic verdict. Evaluate never mutates the record; an activated
// verdict is a promise the caller redeems with a single conditional store
// mutation, re-evaluating if it loses the race.
func Evaluate(lic *models.License, fingerprint string) Verdict {
	switch {
	case lic == nil:
		return VerdictFor(StatusNotFound)
	case !lic.Bound():
		return VerdictFor(StatusActivated)
	case lic.BoundFingerprint == fingerprint:
		return VerdictFor(StatusValidated)
	default:
		return VerdictFor(StatusMismatch)
	}
}
