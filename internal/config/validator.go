package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers content-security-specific validation
// rules. Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("sqlite_dsn", validateSQLiteDSN); err != nil {
		return fmt.Errorf("failed to register sqlite_dsn validator: %w", err)
	}
	return nil
}

// validateSQLiteDSN accepts ":memory:" or an absolute filesystem path.
func validateSQLiteDSN(fl validator.FieldLevel) bool {
	dsn := fl.Field().String()
	if dsn == ":memory:" {
		return true
	}
	return filepath.IsAbs(dsn)
}

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error if validation fails, with actionable error
// messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.Scan.SizeConfig().Validate(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if err := c.validateQuarantineDir(); err != nil {
		return err
	}

	if err := c.validatePolicyGraphDSN(); err != nil {
		return err
	}

	return nil
}

// validateQuarantineDir requires an absolute path: the quarantine store's
// permission model (0700 directory, 0400 payload files) assumes a fixed,
// unambiguous location rather than one resolved relative to the current
// working directory at process start.
func (c *Config) validateQuarantineDir() error {
	if !filepath.IsAbs(c.Quarantine.Dir) {
		return fmt.Errorf("quarantine.dir: must be an absolute path, got %q", c.Quarantine.Dir)
	}
	return nil
}

// validatePolicyGraphDSN requires ":memory:" or an absolute path, mirroring
// the quarantine directory rule above.
func (c *Config) validatePolicyGraphDSN() error {
	if c.PolicyGraph.DSN == ":memory:" {
		return nil
	}
	if !filepath.IsAbs(c.PolicyGraph.DSN) {
		return fmt.Errorf("policy_graph.dsn: must be \":memory:\" or an absolute path, got %q", c.PolicyGraph.DSN)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "sqlite_dsn":
		return fmt.Sprintf("%s must be ':memory:' or an absolute path", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
