package filters

import "fmt"

// Registry is used to lookup a filter specification by name.
type Registry map[string]Spec

// Register a filter specification. Registering a spec with the name of
// an existing one replaces it.
func (r Registry) Register(s Spec) {
	r[s.Name()] = s
}

// CreateFilter looks up the named specification and creates a filter
// from the arguments.
func (r Registry) CreateFilter(name string, args ...any) (Filter, error) {
	s, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("filter not found: %s", name)
	}

	f, err := s.CreateFilter(args)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter %s: %w", name, err)
	}

	return f, nil
}
