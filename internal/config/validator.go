package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers fathom-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("redundancy_pattern", validateRedundancyPattern); err != nil {
		return fmt.Errorf("failed to register redundancy_pattern validator: %w", err)
	}
	return nil
}

// validateRedundancyPattern validates a redundancy rule pattern field.
// Valid values: a "cel:"-prefixed boolean expression (syntax checked later
// by the CEL evaluator) or a compilable regular expression.
func validateRedundancyPattern(fl validator.FieldLevel) bool {
	pattern := fl.Field().String()
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "cel:") {
		return strings.TrimPrefix(pattern, "cel:") != ""
	}
	_, err := regexp.Compile(pattern)
	return err == nil
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRestrictPaths(); err != nil {
		return err
	}

	if err := c.validateModuleSettingsReferences(); err != nil {
		return err
	}

	return nil
}

// validateRestrictPaths ensures every restrict_paths entry is a path, not a
// full URL, since the orchestrator joins these against the scan target.
func (c *Config) validateRestrictPaths() error {
	for i, p := range c.Scan.RestrictPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("scan.restrict_paths[%d]: must be a path starting with '/', got %q", i, p)
		}
	}
	return nil
}

// validateModuleSettingsReferences ensures every key in modules.settings
// refers to a module listed in modules.enabled (or the "all" wildcard).
func (c *Config) validateModuleSettingsReferences() error {
	if len(c.Modules.Settings) == 0 {
		return nil
	}
	enabled := make(map[string]struct{}, len(c.Modules.Enabled))
	wildcard := false
	for _, id := range c.Modules.Enabled {
		if id == "all" {
			wildcard = true
		}
		enabled[id] = struct{}{}
	}
	if wildcard {
		return nil
	}
	for id := range c.Modules.Settings {
		if _, ok := enabled[id]; !ok {
			return fmt.Errorf("modules.settings: references module %q not present in modules.enabled", id)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "redundancy_pattern":
		return fmt.Sprintf("%s must be a valid regexp or a 'cel:'-prefixed expression (redundancy_pattern)", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
