package knowledge

import (
	"fmt"
	"sort"
	"time"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// Context registry operations. The registry always contains the reserved
// default context; all methods take s.mu.

func (s *Service) seedDefaultContext() {
	if _, ok := s.contexts[model.DefaultContext]; !ok {
		s.contexts[model.DefaultContext] = model.NewContext(model.DefaultContext, "Default context for all documents", nil)
	}
}

// CreateContext registers a new context. Reserved and duplicate names are
// rejected.
func (s *Service) CreateContext(name, description string, metadata map[string]interface{}) (*model.Context, error) {
	if err := model.ValidateContextName(name); err != nil {
		return nil, err
	}
	if name == model.DefaultContext {
		return nil, fmt.Errorf("%w: %q", model.ErrReservedContext, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[name]; ok {
		return nil, fmt.Errorf("%w: %q", model.ErrDuplicateContext, name)
	}
	contextRecord := model.NewContext(name, description, metadata)
	s.contexts[name] = contextRecord
	s.logf("knowledge: created context %q", name)
	return cloneContext(contextRecord), nil
}

// ListContexts returns all contexts, default first, then alphabetical.
func (s *Service) ListContexts() []*model.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, cloneContext(c))
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].Name, out[j].Name
		if ki == model.DefaultContext {
			ki = ""
		}
		if kj == model.DefaultContext {
			kj = ""
		}
		return ki < kj
	})
	return out
}

// GetContext looks a context up by name.
func (s *Service) GetContext(name string) (*model.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q: %w", name, model.ErrNotFound)
	}
	return cloneContext(c), nil
}

// ContextExists reports whether a context is registered.
func (s *Service) ContextExists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contexts[name]
	return ok
}

func (s *Service) bumpContextCount(name string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[name]
	if !ok {
		return
	}
	c.DocumentCount += delta
	if c.DocumentCount < 0 {
		c.DocumentCount = 0
	}
	c.UpdatedAt = time.Now().UTC()
}

func cloneContext(c *model.Context) *model.Context {
	copied := *c
	return &copied
}
