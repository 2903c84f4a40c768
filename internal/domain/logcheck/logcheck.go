// Package logcheck classifies a manifest-application log as passing or
// failing using configurable error, ignore, and surrogate (rewrite)
// regex rule lists.
package logcheck

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

// colorEscape strips ANSI/terminal colour escape sequences before
// classification so escape codes never interfere with pattern matching.
var colorEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Surrogate pairs a regex whose named or positional capture groups feed a
// rewrite template. Only positional groups numbered contiguously from 1
// are honoured; missing groups are elided.
type Surrogate struct {
	Pattern  *regexp.Regexp
	Template string
}

// Checker holds the three ordered rule lists used to classify a log.
type Checker struct {
	Errors     []*regexp.Regexp
	Ignore     []*regexp.Regexp
	Surrogates []Surrogate
}

// New compiles rule sources into a Checker. An empty ignore list means
// "never ignore"; an empty surrogate list means "report the raw line".
func New(errorPatterns, ignorePatterns []string, surrogates []Surrogate) (*Checker, error) {
	c := &Checker{Surrogates: surrogates}
	for _, p := range errorPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("compiling error pattern %q", p), err)
		}
		c.Errors = append(c.Errors, re)
	}
	for _, p := range ignorePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("compiling ignore pattern %q", p), err)
		}
		c.Ignore = append(c.Ignore, re)
	}
	return c, nil
}

// Validate reads log line by line and returns the classification result.
// A nil error means every line was either clean or explicitly ignored.
func (c *Checker) Validate(log string) error {
	scanner := bufio.NewScanner(strings.NewReader(log))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := colorEscape.ReplaceAllString(scanner.Text(), "")

		if !c.matchesAny(c.Errors, line) {
			continue
		}
		if c.matchesAny(c.Ignore, line) {
			continue
		}
		return ferrors.New(ferrors.CodeLog, c.checkSurrogates(line))
	}
	return nil
}

func (c *Checker) matchesAny(res []*regexp.Regexp, line string) bool {
	for _, re := range res {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// checkSurrogates finds the first matching surrogate and substitutes its
// positional capture groups into the rewrite template; if no surrogate
// matches, the raw line is returned.
func (c *Checker) checkSurrogates(line string) string {
	for _, s := range c.Surrogates {
		match := s.Pattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		rewritten, ok := interpolate(s.Template, match[1:])
		if !ok {
			continue
		}
		return rewritten
	}
	return line
}

// interpolate substitutes "%(argN)s"-style placeholders with the Nth
// capture group, 1-indexed and contiguous. A placeholder with no
// matching group is left in the text as written rather than erroring:
// its substitution is elided.
func interpolate(template string, groups []string) (string, bool) {
	result := template
	for i, g := range groups {
		placeholder := fmt.Sprintf("%%(arg%d)s", i+1)
		if !strings.Contains(result, placeholder) {
			continue
		}
		result = strings.ReplaceAll(result, placeholder, g)
	}
	return result, true
}
