package server

import (
	"errors"
	"fmt"

	"github.com/laj3/laj3/internal/dict"
	"github.com/laj3/laj3/internal/utils"
)

// ErrUnknownProject indicates a handshake naming a project this server
// does not carry.
var ErrUnknownProject = errors.New("unknown project")

// Project is a named root directory plus its precomputed Dictionary.
// Loaded once at startup and read-only for the process lifetime.
type Project struct {
	Name string
	Root string
	Dict *dict.Dictionary
}

// LoadProject resolves root and reads the project's dictionary file.
func LoadProject(name, root, dictPath string) (*Project, error) {
	if name == "" {
		return nil, errors.New("project name cannot be empty")
	}

	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", name, err)
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("project %q: %w: root %q is not a directory", name, dict.ErrInvalidPath, root)
	}

	d, err := dict.Load(dictPath)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", name, err)
	}

	return &Project{Name: name, Root: root, Dict: d}, nil
}

// Registry holds the server's projects. Built once before Start and never
// mutated, so connection handlers share it without locking.
type Registry struct {
	projects map[string]*Project
}

func NewRegistry(projects ...*Project) (*Registry, error) {
	m := make(map[string]*Project, len(projects))
	for _, p := range projects {
		if _, exists := m[p.Name]; exists {
			return nil, fmt.Errorf("duplicate project %q", p.Name)
		}
		m[p.Name] = p
	}
	return &Registry{projects: m}, nil
}

func (r *Registry) Get(name string) (*Project, bool) {
	p, ok := r.projects[name]
	return p, ok
}

func (r *Registry) Len() int {
	return len(r.projects)
}
