// Package mask implements the single substring-masking primitive used
// everywhere the installer emits command text or remote output to logs.
package mask

import "strings"

// Token is substituted for every matched secret substring.
const Token = "*****"

// Apply replaces every occurrence of each entry in secrets with Token,
// leaving every non-matching span of text verbatim. Empty secrets are
// ignored so an unset value cannot mask everything.
func Apply(text string, secrets []string) string {
	if len(secrets) == 0 {
		return text
	}
	masked := text
	for _, s := range secrets {
		if s == "" {
			continue
		}
		masked = strings.ReplaceAll(masked, s, Token)
	}
	return masked
}
