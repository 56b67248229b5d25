package mapper

import (
	"errors"

	"github.com/InsulaLabs/csmap/converge"
	"github.com/InsulaLabs/csmap/enc"
)

var (
	ErrInvalidRequest = errors.New("invalid request")

	ErrAuthFailure       = errors.New("authentication failed")
	ErrSystemOrgNotFound = errors.New("system organization not found")
	ErrEndpointNotFound  = errors.New("endpoint data not found, check the endpoint name")
	// ErrKeyNotProvisioned means the endpoint record exists but the system
	// organization has no data encryption key to open it with.
	ErrKeyNotProvisioned = errors.New("system organization has no data encryption key")

	ErrUnknownCohesityTenant    = errors.New("cohesity tenant does not exist")
	ErrUnknownVcdTenant         = errors.New("vcd tenant does not exist")
	ErrDuplicateVcdMapping      = errors.New("vcd tenant is already mapped to a cohesity tenant")
	ErrDuplicateCohesityMapping = errors.New("cohesity tenant is already mapped to a vcd tenant")
	ErrNotMapped                = errors.New("vcd tenant is not mapped to any cohesity tenant")

	ErrDecryptionFailed   = enc.ErrDecryptionFailed
	ErrConvergenceTimeout = converge.ErrConvergenceTimeout
)
