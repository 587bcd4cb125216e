// Package prompts holds the persona system prompts for each role.
//
// Every persona is a Markdown file with YAML front matter:
//
//	---
//	name: wukong
//	role: solver
//	description: Gathers facts and drafts the answer.
//	temperature: 0.7
//	---
//	You are Wukong ... {{.Goal}}
//
// The body is a text/template rendered with Vars before every turn.
// Defaults are embedded in the binary; LoadDir overlays files from disk.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
)

//go:embed personas/*.md
var embedded embed.FS

// Persona is a parsed persona file.
type Persona struct {
	Name        string
	Role        core.Role
	Description string
	// Temperature is nil when the file does not set one.
	Temperature *float64
	Body        string
	Source      string

	tmpl *template.Template
}

// Vars are the placeholders available to persona templates.
type Vars struct {
	Goal     string
	Round    int
	MinScore float64
	Extra    map[string]string
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Role        string   `yaml:"role"`
	Description string   `yaml:"description"`
	Temperature *float64 `yaml:"temperature"`
}

// Render applies vars to the persona body.
func (p Persona) Render(vars Vars) (string, error) {
	if p.tmpl == nil {
		return p.Body, nil
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, vars); err != nil {
		return "", errors.New(errors.CodeInvalidInput, "render persona "+p.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Library maps roles to personas.
type Library struct {
	byRole map[core.Role]Persona
}

// Default returns the library built from the embedded persona files.
func Default() (*Library, error) {
	lib := &Library{byRole: make(map[core.Role]Persona)}
	if err := lib.loadFS(embedded, "personas", "embedded"); err != nil {
		return nil, err
	}
	return lib, nil
}

// Load returns the embedded library overlaid with dir when dir is set.
func Load(dir string) (*Library, error) {
	lib, err := Default()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return lib, nil
	}
	if err := lib.LoadDir(dir); err != nil {
		return nil, err
	}
	return lib, nil
}

// LoadDir overrides personas with the *.md files found in dir.
func (l *Library) LoadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return errors.New(errors.CodeNotFound, "prompts dir "+dir, err)
	}
	if !info.IsDir() {
		return errors.New(errors.CodeInvalidInput, dir+" is not a directory", nil)
	}
	return l.loadFS(os.DirFS(dir), ".", dir)
}

func (l *Library) loadFS(fsys fs.FS, root, origin string) error {
	matches, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(root, "*.md")))
	if err != nil {
		return err
	}
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		p, err := Parse(data)
		if err != nil {
			return errors.New(errors.CodeInvalidInput, "persona "+name, err).
				WithContext("source", origin)
		}
		p.Source = filepath.Join(origin, filepath.Base(name))
		l.byRole[p.Role] = p
	}
	return nil
}

// Parse reads a persona from its file contents.
func Parse(data []byte) (Persona, error) {
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Persona{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Persona{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	role, err := core.ParseRole(parsed.Role)
	if err != nil {
		return Persona{}, err
	}
	name := strings.TrimSpace(parsed.Name)
	if name == "" {
		name = role.Persona()
	}
	if t := parsed.Temperature; t != nil && (*t < 0 || *t > 2) {
		return Persona{}, fmt.Errorf("temperature %v out of range [0,2]", *t)
	}
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return Persona{}, fmt.Errorf("parse template: %w", err)
	}
	return Persona{
		Name:        name,
		Role:        role,
		Description: strings.TrimSpace(parsed.Description),
		Temperature: parsed.Temperature,
		Body:        body,
		tmpl:        tmpl,
	}, nil
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", fmt.Errorf("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

// Get returns the persona for role.
func (l *Library) Get(role core.Role) (Persona, error) {
	p, ok := l.byRole[role]
	if !ok {
		return Persona{}, errors.New(errors.CodeNotFound, "no persona for role "+string(role), nil)
	}
	return p, nil
}

// Set registers p for its role, replacing any previous persona.
func (l *Library) Set(p Persona) {
	if p.tmpl == nil {
		if t, err := template.New(p.Name).Option("missingkey=zero").Parse(p.Body); err == nil {
			p.tmpl = t
		}
	}
	l.byRole[p.Role] = p
}

// All returns the personas ordered by role.
func (l *Library) All() []Persona {
	out := make([]Persona, 0, len(l.byRole))
	for _, p := range l.byRole {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}
