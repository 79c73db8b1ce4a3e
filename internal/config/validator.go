package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers mcpmon-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("json_object", validateJSONObject); err != nil {
		return fmt.Errorf("failed to register json_object validator: %w", err)
	}
	return nil
}

// validateDuration accepts time.ParseDuration syntax ("250ms", "5s").
func validateDuration(fl validator.FieldLevel) bool {
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// validateJSONObject accepts a JSON object literal.
func validateJSONObject(fl validator.FieldLevel) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(fl.Field().String()), &obj) == nil
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field: an extension id cannot be both enabled and disabled.
	disabled := make(map[string]struct{}, len(c.Extensions.Disabled))
	for _, id := range c.Extensions.Disabled {
		disabled[id] = struct{}{}
	}
	for _, id := range c.Extensions.Enabled {
		if _, ok := disabled[id]; ok {
			return fmt.Errorf("extension %q is both enabled and disabled", id)
		}
	}

	return nil
}

// formatValidationErrors converts validator errors into readable messages.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "duration":
			msgs = append(msgs, fmt.Sprintf("%s: %q is not a valid duration (use forms like \"250ms\", \"5s\")", fe.Field(), fe.Value()))
		case "json_object":
			msgs = append(msgs, fmt.Sprintf("%s: must be a JSON object", fe.Field()))
		case "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s: value %v out of range (%s %s)", fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
