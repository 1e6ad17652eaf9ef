package auth

// Scope is the permission level requested from the token issuer.
type Scope string

const (
	// ScopeReadWrite grants full access to the service account's Drive files.
	ScopeReadWrite Scope = "https://www.googleapis.com/auth/drive"
	// ScopeReadOnly grants read access only.
	ScopeReadOnly Scope = "https://www.googleapis.com/auth/drive.readonly"
)

// Valid reports whether s is one of the scopes the relay requests.
func (s Scope) Valid() bool {
	return s == ScopeReadWrite || s == ScopeReadOnly
}

// Label returns a short name for logs and metric labels.
func (s Scope) Label() string {
	switch s {
	case ScopeReadWrite:
		return "read-write"
	case ScopeReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}
