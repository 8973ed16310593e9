// Package templates renders the HTML pages served next to the API.
package templates

import (
	"encoding/json"
	"html/template"
	"io"
	"path/filepath"
	"sync"
)

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// js marshals a value for use inside a <script> block
	"js": func(v any) (template.JS, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return template.JS(b), nil
	},
}

// Renderer manages page templates.
type Renderer struct {
	dir       string
	templates *template.Template
	mu        sync.RWMutex
}

// New parses every *.html file in dir.
func New(dir string) (*Renderer, error) {
	r := &Renderer{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Render executes the named template into w.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(w, name, data)
}

// Reload reparses the templates from disk.
func (r *Renderer) Reload() error {
	tmpl, err := template.New("").Funcs(funcMap).ParseGlob(filepath.Join(r.dir, "*.html"))
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()
	return nil
}
