// Package domain holds the typed identifiers shared across services. Typed
// IDs keep a tenant ID from ever being passed where a contract ID belongs.
package domain

import (
	"github.com/google/uuid"

	dErrors "dealguard/pkg/domain-errors"
)

type (
	TenantID   struct{ uuid.UUID }
	UserID     struct{ uuid.UUID }
	ContractID struct{ uuid.UUID }
	JobID      struct{ uuid.UUID }
	DeadlineID struct{ uuid.UUID }
	AlertID    struct{ uuid.UUID }
	PartnerID  struct{ uuid.UUID }
)

func NewTenantID() TenantID     { return TenantID{uuid.New()} }
func NewUserID() UserID         { return UserID{uuid.New()} }
func NewContractID() ContractID { return ContractID{uuid.New()} }
func NewJobID() JobID           { return JobID{uuid.New()} }
func NewDeadlineID() DeadlineID { return DeadlineID{uuid.New()} }
func NewAlertID() AlertID       { return AlertID{uuid.New()} }
func NewPartnerID() PartnerID   { return PartnerID{uuid.New()} }

func (id TenantID) IsNil() bool   { return id.UUID == uuid.Nil }
func (id UserID) IsNil() bool     { return id.UUID == uuid.Nil }
func (id ContractID) IsNil() bool { return id.UUID == uuid.Nil }
func (id JobID) IsNil() bool      { return id.UUID == uuid.Nil }
func (id DeadlineID) IsNil() bool { return id.UUID == uuid.Nil }
func (id AlertID) IsNil() bool    { return id.UUID == uuid.Nil }
func (id PartnerID) IsNil() bool  { return id.UUID == uuid.Nil }

// parseUUID rejects empty strings, malformed values, and the nil UUID so a
// zero ID can never enter the system through parsing.
func parseUUID(raw, what string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", what)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", what)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be nil", what)
	}
	return parsed, nil
}

func ParseTenantID(raw string) (TenantID, error) {
	parsed, err := parseUUID(raw, "tenant id")
	return TenantID{parsed}, err
}

func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseUUID(raw, "user id")
	return UserID{parsed}, err
}

func ParseContractID(raw string) (ContractID, error) {
	parsed, err := parseUUID(raw, "contract id")
	return ContractID{parsed}, err
}

func ParseJobID(raw string) (JobID, error) {
	parsed, err := parseUUID(raw, "job id")
	return JobID{parsed}, err
}

func ParseDeadlineID(raw string) (DeadlineID, error) {
	parsed, err := parseUUID(raw, "deadline id")
	return DeadlineID{parsed}, err
}

func ParseAlertID(raw string) (AlertID, error) {
	parsed, err := parseUUID(raw, "alert id")
	return AlertID{parsed}, err
}

func ParsePartnerID(raw string) (PartnerID, error) {
	parsed, err := parseUUID(raw, "partner id")
	return PartnerID{parsed}, err
}
