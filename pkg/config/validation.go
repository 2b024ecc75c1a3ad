package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct tags (required, oneof, numeric bounds) are checked first, then
// cross-field rules that tags cannot express: database backend settings,
// port range ordering, and TLS file requirements.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			// Report the first failure with the offending field path
			first := errs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("configuration validation error: %w", err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := validatePortRanges(&cfg.Controller); err != nil {
		return err
	}

	if cfg.API.SSL {
		if cfg.API.CertFile == "" || cfg.API.CertKey == "" {
			return fmt.Errorf("api: ssl requires both certfile and certkey")
		}
	}

	return nil
}

// validatePortRanges checks that each allocator range is non-empty and that
// the console and UDP ranges do not overlap on the same compute.
func validatePortRanges(cfg *ControllerConfig) error {
	if cfg.ConsolePortStart >= cfg.ConsolePortEnd {
		return fmt.Errorf("controller: console port range [%d, %d) is empty",
			cfg.ConsolePortStart, cfg.ConsolePortEnd)
	}
	if cfg.UDPPortStart >= cfg.UDPPortEnd {
		return fmt.Errorf("controller: udp port range [%d, %d) is empty",
			cfg.UDPPortStart, cfg.UDPPortEnd)
	}
	if cfg.ConsolePortStart < cfg.UDPPortEnd && cfg.UDPPortStart < cfg.ConsolePortEnd {
		return fmt.Errorf("controller: console range [%d, %d) overlaps udp range [%d, %d)",
			cfg.ConsolePortStart, cfg.ConsolePortEnd, cfg.UDPPortStart, cfg.UDPPortEnd)
	}
	return nil
}
