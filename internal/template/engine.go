package template

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders backend templates (such as tool URLs) with sprig functions.
// Parsed templates are cached by their source text.
type Engine struct {
	mu    sync.RWMutex
	cache map[string]*template.Template
	funcs template.FuncMap
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		cache: make(map[string]*template.Template),
		funcs: sprig.TxtFuncMap(),
	}
}

// IsTemplate reports whether s contains template actions.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// Parse compiles src, caching the result. Missing keys are errors.
func (e *Engine) Parse(src string) (*template.Template, error) {
	e.mu.RLock()
	t, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := template.New("").Funcs(e.funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}

	e.mu.Lock()
	e.cache[src] = t
	e.mu.Unlock()
	return t, nil
}

// Render executes src against data. Strings without actions are returned unchanged.
func (e *Engine) Render(src string, data map[string]interface{}) (string, error) {
	if !IsTemplate(src) {
		return src, nil
	}
	t, err := e.Parse(src)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return b.String(), nil
}
