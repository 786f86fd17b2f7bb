package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks cfg against its struct tags and the handful of rules a
// tag can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics: enabled but listen is empty")
	}
	if cfg.Backend.Type == "badger" && cfg.Backend.Dir == "" {
		return fmt.Errorf("backend: badger selected but dir is empty")
	}
	return nil
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on %q tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
