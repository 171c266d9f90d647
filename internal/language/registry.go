package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupported = errors.New("unsupported language")

// Language describes a runtime submissions can target.
type Language struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Image   string   `json:"image"`
	// Transpile is set for languages that are converted to JavaScript before running.
	Transpile bool `json:"transpile"`
}

// Registry is the allow-list of enabled languages. It is built once at
// startup and read-only afterwards.
type Registry struct {
	languages map[string]Language
	aliases   map[string]string
	def       string
}

// Known returns every language the service knows how to run, before the
// allow-list is applied.
func Known() []Language {
	return []Language{
		{
			ID:      "javascript",
			Name:    "JavaScript (Node.js)",
			Aliases: []string{"js", "node", "nodejs"},
			Image:   "node:22-slim",
		},
		{
			ID:        "typescript",
			Name:      "TypeScript (transpiled)",
			Aliases:   []string{"ts"},
			Image:     "node:22-slim",
			Transpile: true,
		},
	}
}

// NewRegistry enables the allowed subset of Known. images overrides the
// container image per language id.
func NewRegistry(allowed []string, def string, images map[string]string) (*Registry, error) {
	known := make(map[string]Language)
	for _, l := range Known() {
		known[l.ID] = l
	}

	r := &Registry{
		languages: make(map[string]Language),
		aliases:   make(map[string]string),
	}
	for _, id := range allowed {
		id = strings.ToLower(strings.TrimSpace(id))
		l, ok := known[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, id)
		}
		if img, ok := images[id]; ok && img != "" {
			l.Image = img
		}
		r.languages[l.ID] = l
		r.aliases[l.ID] = l.ID
		for _, a := range l.Aliases {
			r.aliases[a] = l.ID
		}
	}

	if def == "" {
		def = "javascript"
	}
	id, ok := r.aliases[strings.ToLower(def)]
	if !ok {
		return nil, fmt.Errorf("default language %q is not allowed", def)
	}
	r.def = id
	return r, nil
}

// Resolve maps a requested name (or alias) to an enabled language. An empty
// name resolves to the default.
func (r *Registry) Resolve(name string) (Language, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.def
	}
	id, ok := r.aliases[name]
	if !ok {
		return Language{}, ErrUnsupported
	}
	return r.languages[id], nil
}

func (r *Registry) Default() Language {
	return r.languages[r.def]
}

// List returns enabled languages sorted by id.
func (r *Registry) List() []Language {
	langs := make([]Language, 0, len(r.languages))
	for _, l := range r.languages {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].ID < langs[j].ID })
	return langs
}

// Images returns the distinct container images of enabled languages.
func (r *Registry) Images() []string {
	seen := make(map[string]bool)
	var images []string
	for _, l := range r.List() {
		if !seen[l.Image] {
			seen[l.Image] = true
			images = append(images, l.Image)
		}
	}
	return images
}
