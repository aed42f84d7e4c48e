package events

import (
	"math/big"
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	// TypeAttestationSubmitted is emitted when an attestor reports backing.
	TypeAttestationSubmitted = "oracle.attestation_submitted"
	// TypeAttestorRevoked is emitted when an attestor loses authorization.
	TypeAttestorRevoked = "oracle.attestor_revoked"
	// TypePauseLevelChanged is emitted on every pause escalation or resume.
	TypePauseLevelChanged = "pause.level_changed"
)

// AttestationSubmitted records a fresh backing report.
type AttestationSubmitted struct {
	Attestor    ethcommon.Address
	Backing     *big.Int
	ProofDigest string
	SubmittedAt int64
}

func (AttestationSubmitted) EventType() string { return TypeAttestationSubmitted }

func (e AttestationSubmitted) Attributes() map[string]string {
	return map[string]string{
		"attestor":    strings.ToLower(e.Attestor.Hex()),
		"backing":     bigString(e.Backing),
		"proofDigest": e.ProofDigest,
		"submittedAt": strconv.FormatInt(e.SubmittedAt, 10),
	}
}

// AttestorRevoked records the removal of an attestor and its live attestation.
type AttestorRevoked struct {
	Attestor ethcommon.Address
}

func (AttestorRevoked) EventType() string { return TypeAttestorRevoked }

func (e AttestorRevoked) Attributes() map[string]string {
	return map[string]string{
		"attestor": strings.ToLower(e.Attestor.Hex()),
	}
}

// PauseLevelChanged carries the pre and post levels required by alerting.
type PauseLevelChanged struct {
	Previous int
	Current  int
	Reason   string
}

func (PauseLevelChanged) EventType() string { return TypePauseLevelChanged }

func (e PauseLevelChanged) Attributes() map[string]string {
	return map[string]string{
		"previous": strconv.Itoa(e.Previous),
		"current":  strconv.Itoa(e.Current),
		"reason":   strings.TrimSpace(e.Reason),
	}
}
