// Package manifest implements the process-wide manifest and data-file
// libraries: ordered fragment lists that render into concatenated,
// variable-substituted manifests and structured YAML data files.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/fleetctl/fleetctl/internal/domain/ferrors"
)

// Fragment is one contribution to a named manifest: template text, a
// context mapping that wins over global configuration on key collision,
// and an optional data-file contribution merged at render time.
type Fragment struct {
	Name         string
	TemplatePath string
	TemplateText string
	Context      map[string]string
	DataContrib  map[string]interface{}
}

// Library accumulates fragments per manifest name and renders them on
// demand. It is safe for concurrent use; all mutation happens during the
// sequential planning phase, but reads may overlap with deployment.
type Library struct {
	mu        sync.RWMutex
	fragments map[string][]Fragment
	order     []string
	data      *DataFileLibrary
	scratch   string
}

// New constructs an empty manifest Library. scratch is the directory used
// to materialize inline fragment text before rendering.
func New(scratch string) *Library {
	return &Library{
		fragments: make(map[string][]Fragment),
		data:      NewDataFileLibrary(),
		scratch:   scratch,
	}
}

// DataFiles returns the library's parallel data-file registry.
func (l *Library) DataFiles() *DataFileLibrary {
	return l.data
}

// AddFragment appends a fragment to name's ordered list, preserving
// append order verbatim. templatePath must exist on disk; its contents
// are read immediately so later filesystem changes cannot alter a
// render.
func (l *Library) AddFragment(name, templatePath string, context map[string]string, dataContrib map[string]interface{}) error {
	text, err := os.ReadFile(templatePath)
	if err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("unknown template path %q", templatePath), err)
	}
	return l.addFragment(Fragment{
		Name:         name,
		TemplatePath: templatePath,
		TemplateText: string(text),
		Context:      context,
		DataContrib:  dataContrib,
	})
}

// AddFragmentInline writes text to a scratch file inside the library's
// scratch area, then forwards to AddFragment so every fragment is
// traceable to a template path.
func (l *Library) AddFragmentInline(name, text string, context map[string]string, dataContrib map[string]interface{}) error {
	if err := os.MkdirAll(l.scratch, 0o700); err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "creating manifest scratch area", err)
	}
	path := filepath.Join(l.scratch, fmt.Sprintf("%s-%d.tmpl", name, len(l.fragments[name])))
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return ferrors.Wrap(ferrors.CodeConfig, "writing inline fragment", err)
	}
	return l.AddFragment(name, path, context, dataContrib)
}

func (l *Library) addFragment(f Fragment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.fragments[f.Name]; !seen {
		l.order = append(l.order, f.Name)
	}
	l.fragments[f.Name] = append(l.fragments[f.Name], f)
	return nil
}

// Render concatenates name's fragments in registration order, substitutes
// variables from (fragment context ∪ global config) with fragment context
// winning collisions, merges any data contributions into the data-file
// library, and writes the result to tmpdir/<name>.pp.
func (l *Library) Render(name, tmpdir string, globalConfig map[string]string) (string, error) {
	l.mu.RLock()
	fragments := append([]Fragment(nil), l.fragments[name]...)
	l.mu.RUnlock()

	if len(fragments) == 0 {
		return "", ferrors.New(ferrors.CodeConfig, fmt.Sprintf("no fragments registered for manifest %q", name))
	}

	var rendered strings.Builder
	for _, frag := range fragments {
		vars := make(map[string]string, len(globalConfig)+len(frag.Context))
		for k, v := range globalConfig {
			vars[k] = v
		}
		for k, v := range frag.Context {
			vars[k] = v
		}

		tmpl, err := template.New(frag.Name).Option("missingkey=zero").Parse(toGoTemplate(frag.TemplateText))
		if err != nil {
			return "", ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("parsing fragment for manifest %q", name), err)
		}
		if err := tmpl.Execute(&rendered, vars); err != nil {
			return "", ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("rendering fragment for manifest %q", name), err)
		}
		rendered.WriteString("\n")

		if len(frag.DataContrib) > 0 {
			l.data.SetMany(name, frag.DataContrib)
		}
	}

	if err := os.MkdirAll(tmpdir, 0o700); err != nil {
		return "", ferrors.Wrap(ferrors.CodeConfig, "creating manifest render directory", err)
	}
	path := filepath.Join(tmpdir, name+".pp")
	if err := os.WriteFile(path, []byte(rendered.String()), 0o600); err != nil {
		return "", ferrors.Wrap(ferrors.CodeConfig, "writing rendered manifest", err)
	}
	return path, nil
}

// toGoTemplate rewrites "{var}"-style placeholders into Go text/template
// "{{.var}}" actions so fragment authors can keep writing simple
// brace-interpolation syntax in their template text.
func toGoTemplate(text string) string {
	var out strings.Builder
	i := 0
	for i < len(text) {
		if text[i] == '{' && i+1 < len(text) && text[i+1] != '{' {
			end := strings.IndexByte(text[i:], '}')
			if end > 0 {
				name := strings.TrimSpace(text[i+1 : i+end])
				if name != "" && !strings.ContainsAny(name, " \t\n") {
					out.WriteString("{{.")
					out.WriteString(name)
					out.WriteString("}}")
					i += end + 1
					continue
				}
			}
		}
		out.WriteByte(text[i])
		i++
	}
	return out.String()
}

// Names returns every manifest name with at least one fragment, in
// registration order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// DataFileLibrary is the parallel registry for structured hierarchical
// data files rendered alongside manifests.
type DataFileLibrary struct {
	mu      sync.RWMutex
	entries map[string]map[string]interface{}
	order   map[string][]string
}

// NewDataFileLibrary constructs an empty DataFileLibrary.
func NewDataFileLibrary() *DataFileLibrary {
	return &DataFileLibrary{
		entries: make(map[string]map[string]interface{}),
		order:   make(map[string][]string),
	}
}

// Set stores a single key/value pair under name, last-writer-wins.
func (d *DataFileLibrary) Set(name, key string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLocked(name, key, value)
}

// SetMany merges mapping into name's entry, last-writer-wins per key.
func (d *DataFileLibrary) SetMany(name string, mapping map[string]interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.setLocked(name, k, mapping[k])
	}
}

func (d *DataFileLibrary) setLocked(name, key string, value interface{}) {
	if d.entries[name] == nil {
		d.entries[name] = make(map[string]interface{})
	}
	if _, exists := d.entries[name][key]; !exists {
		d.order[name] = append(d.order[name], key)
	}
	d.entries[name][key] = value
}

// Dump serializes name's entry as stable-ordered YAML with an explicit
// document start and no inline flow style.
func (d *DataFileLibrary) Dump(name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := append([]string(nil), d.order[name]...)
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: k}
		valNode := &yaml.Node{}
		if err := valNode.Encode(d.entries[name][k]); err != nil {
			return "", ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("encoding data file %q", name), err)
		}
		node.Content = append(node.Content, keyNode, valNode)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return "", ferrors.Wrap(ferrors.CodeConfig, fmt.Sprintf("dumping data file %q", name), err)
	}
	_ = enc.Close()
	return sb.String(), nil
}

// Parse decodes a dumped data file back into a mapping, used to assert
// the dump/parse round-trip property.
func Parse(text string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := yaml.Unmarshal([]byte(text), &out); err != nil {
		return nil, ferrors.Wrap(ferrors.CodeConfig, "parsing data file", err)
	}
	return out, nil
}
