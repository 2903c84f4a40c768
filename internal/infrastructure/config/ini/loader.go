// Package ini implements ports.FleetConfigLoader by parsing the
// installer's INI-style configuration file format: "[section]" headers,
// "key=value" lines, and "#"/";" comments, folding each entry into a
// "section/key" config key.
package ini

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

// Loader implements ports.FleetConfigLoader.
type Loader struct{}

// New constructs a Loader.
func New() *Loader { return &Loader{} }

// Load parses path into a flat map keyed "section/name", skipping blank
// lines and comments and rejecting keys that appear before any section
// header.
func (l *Loader) Load(ctx context.Context, path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("opening config file %q", path), err)
	}
	defer f.Close()
	return parse(f, path)
}

func parse(r io.Reader, path string) (map[string]string, error) {
	raw := make(map[string]string)
	section := ""
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, ferrors.New(ferrors.CodeConfig, fmt.Sprintf("%s:%d: expected \"key=value\", got %q", path, lineNo, line))
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if section == "" {
			return nil, ferrors.New(ferrors.CodeConfig, fmt.Sprintf("%s:%d: key %q given before any [section] header", path, lineNo, key))
		}
		raw[section+"/"+key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("reading config file %q", path), err)
	}
	return raw, nil
}
