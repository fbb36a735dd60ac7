package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and custom cross-field
// rules. Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTokenPresence(); err != nil {
		return err
	}
	return nil
}

// validateTokenPresence requires a token unless DevMode generates one.
func (c *Config) validateTokenPresence() error {
	if c.DevMode {
		return nil
	}
	if c.Server.Token == "" {
		return errors.New("server.token is required outside dev_mode (set GABP_TOKEN or server.token)")
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
	case "required_if":
		return fmt.Sprintf("%s is required when the corresponding feature is enabled", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "ip":
		return fmt.Sprintf("%s must be a valid IP address", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", field, tag, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
