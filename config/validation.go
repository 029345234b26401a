package config

import (
	"fmt"
	"strings"
	"time"

	ferrors "github.com/sweetpotato0/factflow/errors"
)

// ValidationError is one rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// ValidationErrors is every problem found in one pass. It matches
// errors.ErrInvalidInput so callers classify it as a validation failure.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for _, fe := range e {
		fmt.Fprintf(&b, "  - %s: %s\n", fe.Field, fe.Message)
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ferrors.ErrInvalidInput
}

// Fields lists the rejected field names in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, fe := range e {
		out[i] = fe.Field
	}
	return out
}

// Validator accumulates field problems so a config reports all of them at once.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{}
}

// Add records a problem for field.
func (v *Validator) Add(field, format string, args ...any) *Validator {
	v.errors = append(v.errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	return v
}

// RequireNonEmpty validates that a string field is not blank
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "value cannot be empty")
	}
	return v
}

// RequirePositive validates that an integer field is greater than 0
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		v.Add(field, "value must be positive, got %d", value)
	}
	return v
}

// ValidateRange validates that an integer field is within [min, max]
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.Add(field, "value must be between %d and %d, got %d", min, max, value)
	}
	return v
}

// ValidateFloatRange validates that a float field is within [min, max]
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		v.Add(field, "value must be between %.2f and %.2f, got %.2f", min, max, value)
	}
	return v
}

// ValidateOneOf validates that a string value is one of the allowed options
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	return v.Add(field, "value must be one of %v, got %q", allowed, value)
}

// ValidateEach validates every element of a string list against allowed
func (v *Validator) ValidateEach(field string, values []string, allowed ...string) *Validator {
	for i, value := range values {
		v.ValidateOneOf(fmt.Sprintf("%s[%d]", field, i), value, allowed...)
	}
	return v
}

// ValidateDuration validates that a duration is at least min
func (v *Validator) ValidateDuration(field string, value, min time.Duration) *Validator {
	if value < min {
		v.Add(field, "duration must be at least %s, got %s", min, value)
	}
	return v
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns ValidationErrors, or nil when every check passed.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	return append(ValidationErrors(nil), v.errors...)
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ValidatePostgresConfig checks the session table connection settings.
func ValidatePostgresConfig(host string, port int, user, dbName, sslMode, table string) error {
	v := NewValidator()
	v.RequireNonEmpty("POSTGRES_HOST", host)
	v.ValidateRange("POSTGRES_PORT", port, 1, 65535)
	v.RequireNonEmpty("POSTGRES_USER", user)
	v.RequireNonEmpty("POSTGRES_DB", dbName)
	v.ValidateOneOf("POSTGRES_SSLMODE", sslMode, "disable", "require", "verify-ca", "verify-full")
	if !identifier(table) {
		v.Add("POSTGRES_SESSION_TABLE", "%q is not a plain SQL identifier", table)
	}
	return v.Error()
}

// ValidateRedisConfig checks the session key space settings.
func ValidateRedisConfig(addr string, db int, prefix string, ttl time.Duration) error {
	v := NewValidator()
	v.RequireNonEmpty("REDIS_ADDR", addr)
	v.ValidateRange("REDIS_DB", db, 0, 15)
	v.RequireNonEmpty("REDIS_PREFIX", prefix)
	if ttl < 0 {
		v.Add("REDIS_TTL", "ttl cannot be negative, got %s", ttl)
	}
	return v.Error()
}

// ValidateMongoDBConfig checks the session collection settings.
func ValidateMongoDBConfig(uri, database, collection string) error {
	v := NewValidator()
	v.RequireNonEmpty("MONGODB_URI", uri)
	if uri != "" && !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		v.Add("MONGODB_URI", "uri must use the mongodb:// or mongodb+srv:// scheme")
	}
	v.RequireNonEmpty("MONGODB_DB", database)
	v.RequireNonEmpty("MONGODB_COLLECTION", collection)
	return v.Error()
}

func identifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
