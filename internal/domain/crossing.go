package domain

import "time"

// CrossingResult is the outcome of a verification scan.
type CrossingResult string

const (
	CrossingApproved CrossingResult = "approved"
	CrossingDenied   CrossingResult = "denied"
)

// DenialReason explains why a scan was denied.
type DenialReason string

const (
	DenialSuspended DenialReason = "suspended"
	DenialRevoked   DenialReason = "revoked"
	DenialExpired   DenialReason = "expired"
	DenialNotIssued DenialReason = "not_issued"
	DenialNotFound  DenialReason = "not_found"
)

// CrossingAttempt is an append-only record of one scan at a border post.
type CrossingAttempt struct {
	ID           string
	ECardID      string
	AgentID      string
	Timestamp    time.Time
	Result       CrossingResult
	DenialReason DenialReason
}
