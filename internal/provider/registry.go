package provider

import (
	"fmt"
)

// Registry is the process-wide, read-only set of provider specs. It keeps
// registration order so listings are stable.
type Registry struct {
	specs map[string]Spec
	order []string
}

func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if err := validate(s); err != nil {
			return nil, err
		}
		if _, exists := r.specs[s.ID]; exists {
			return nil, fmt.Errorf("duplicate provider id %q", s.ID)
		}
		if s.CredentialKey == "" {
			s.CredentialKey = s.ID
		}
		r.specs[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	return r, nil
}

func validate(s Spec) error {
	if s.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	if s.Endpoint == nil || s.BuildRequest == nil || s.ExtractResponse == nil {
		return fmt.Errorf("provider %q: endpoint, request builder and response extractor are required", s.ID)
	}
	if !s.SupportsStreaming && s.StreamFormat != StreamUnsupported {
		return fmt.Errorf("provider %q: stream format must be unsupported when streaming is disabled", s.ID)
	}
	if s.SupportsStreaming && s.StreamFormat == StreamUnsupported {
		return fmt.Errorf("provider %q: streaming enabled without a stream format", s.ID)
	}
	return nil
}

func (r *Registry) Lookup(id string) (Spec, error) {
	s, ok := r.specs[id]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return s, nil
}

// List returns every spec in registration order.
func (r *Registry) List() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
