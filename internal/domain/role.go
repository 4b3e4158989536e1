package domain

// Capability is a named permission held by an account.
type Capability string

const (
	CapabilityOperator Capability = "operator" // manages assets and capabilities
	CapabilityExecutor Capability = "executor" // may execute triggers
)

// String returns the string representation of Capability.
func (c Capability) String() string {
	return string(c)
}

// IsValid checks if the capability is a valid value.
func (c Capability) IsValid() bool {
	return c == CapabilityOperator || c == CapabilityExecutor
}

// RoleGrant records a capability held by an account.
// Corresponds to role_grants table in PostgreSQL.
type RoleGrant struct {
	Account    Address
	Capability Capability
	GrantedBy  Address
	GrantedAt  int64 // Unix timestamp in milliseconds
	Revoked    bool
}
