// Package prompt holds the named text/template prompts rendered for every
// oracle call.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// ErrUnknown is returned for names that were never defined.
var ErrUnknown = errors.New("unknown prompt")

var funcs = template.FuncMap{
	"join":  strings.Join,
	"inc":   func(i int) int { return i + 1 },
	"trim":  strings.TrimSpace,
	"upper": strings.ToUpper,
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return t, nil
}

// Set is a concurrency-safe collection of named prompts.
type Set struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{templates: make(map[string]*template.Template)}
}

// Define parses text and adds it under name. Names are defined once.
func (s *Set) Define(name, text string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("prompt name cannot be empty")
	}
	t, err := parse(name, text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[name]; ok {
		return fmt.Errorf("prompt %s already defined", name)
	}
	s.templates[name] = t
	return nil
}

// Override replaces the text of an already defined prompt.
func (s *Set) Override(name, text string) error {
	t, err := parse(name, text)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[name]; !ok {
		return fmt.Errorf("%w %q", ErrUnknown, name)
	}
	s.templates[name] = t
	return nil
}

// Render executes the prompt called name against data.
func (s *Set) Render(name string, data any) (string, error) {
	s.mu.RLock()
	t, ok := s.templates[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknown, name)
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return b.String(), nil
}

// Names lists the defined prompts in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
