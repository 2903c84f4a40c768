package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

// sharedValidator lazily builds the process-wide validator.Validate used
// for ad-hoc Var() checks against dynamically keyed configuration values,
// since plugin-declared keys are not known until plugins are loaded and so
// cannot be expressed as static struct tags.
func sharedValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// varCheck adapts a go-playground/validator tag expression into a
// Validator, the way the installer's dynamic per-key rules are declared.
func varCheck(tag string) Validator {
	return func(value string, _ []string) error {
		if value == "" {
			return nil
		}
		if err := sharedValidator().Var(value, tag); err != nil {
			return fmt.Errorf("%q does not satisfy %q: %w", value, tag, err)
		}
		return nil
	}
}

// NotEmpty rejects the empty string.
func NotEmpty(value string, _ []string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value must not be empty")
	}
	return nil
}

// Integer requires value parse as a base-10 integer.
func Integer(value string, _ []string) error {
	if value == "" {
		return nil
	}
	if _, err := strconv.Atoi(value); err != nil {
		return fmt.Errorf("%q is not a base-10 integer", value)
	}
	return nil
}

// Float requires value parse as a floating point number.
var Float = varCheck("numeric")

// Regexp builds a Validator requiring value to match at least one of
// patterns.
func Regexp(patterns ...string) Validator {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return func(value string, _ []string) error {
		if value == "" {
			return nil
		}
		for _, re := range compiled {
			if re.MatchString(value) {
				return nil
			}
		}
		return fmt.Errorf("%q does not match any of %d allowed pattern(s)", value, len(compiled))
	}
}

// IP requires value to be a valid IPv4 or IPv6 literal.
func IP(value string, _ []string) error {
	if value == "" {
		return nil
	}
	if net.ParseIP(value) == nil {
		return fmt.Errorf("%q is not a valid IP address", value)
	}
	return nil
}

// Port requires value to parse as an integer in [0, 65535].
func Port(value string, _ []string) error {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%q is not a valid port number", value)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

// Hostname requires value resolve via net.LookupHost; resolution failures
// are treated as validation failures rather than panics.
func Hostname(resolver func(string) ([]string, error)) Validator {
	if resolver == nil {
		resolver = net.LookupHost
	}
	return func(value string, _ []string) error {
		if value == "" {
			return nil
		}
		if _, err := resolver(value); err != nil {
			return fmt.Errorf("hostname %q does not resolve: %w", value, err)
		}
		return nil
	}
}

// MinLength requires the value be at least n characters.
func MinLength(n int) Validator {
	return varCheck(fmt.Sprintf("min=%d", n))
}
