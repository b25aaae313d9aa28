package provider

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/pkg/config"
)

// NotFoundError is returned when no backend serves the requested model id.
type NotFoundError struct {
	ModelID   string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no generation backend for model %q (available: %s)", e.ModelID, strings.Join(e.Available, ", "))
}

// Registry maps model ids to backends. It is built once and read-only afterwards.
type Registry struct {
	backends       map[string]Backend
	defaultModelID string
}

// NewRegistry indexes backends by SupportedModelID. Duplicate ids are rejected,
// and defaultModelID must name one of the backends.
func NewRegistry(defaultModelID string, backends ...Backend) (*Registry, error) {
	r := &Registry{
		backends:       make(map[string]Backend, len(backends)),
		defaultModelID: defaultModelID,
	}
	for _, b := range backends {
		id := b.SupportedModelID()
		if _, exists := r.backends[id]; exists {
			return nil, fmt.Errorf("backend for model %s already registered", id)
		}
		r.backends[id] = b
	}
	if _, ok := r.backends[defaultModelID]; !ok {
		return nil, &NotFoundError{ModelID: defaultModelID, Available: r.ModelIDs()}
	}
	return r, nil
}

// NewRegistryFromConfig builds one backend per configured entry.
func NewRegistryFromConfig(cfg config.LLMConfig, client *http.Client) (*Registry, error) {
	backends := make([]Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b, err := NewBackend(bc, client)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return NewRegistry(cfg.DefaultModelID, backends...)
}

// NewBackend creates the backend for one config entry.
func NewBackend(bc config.BackendConfig, client *http.Client) (Backend, error) {
	switch bc.Type {
	case "openai", "anthropic", "google", "local", "custom":
		// All use the OpenAI-compatible chat protocol
		return NewChatBackend(bc.ModelID, bc.Endpoint, bc.APIKey, client), nil
	case "ollama":
		return NewOllamaBackend(bc.ModelID, bc.Endpoint, client), nil
	case "mock":
		return NewMockBackend(bc.ModelID), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", bc.Type)
	}
}

// Resolve returns the backend for modelID. An unavailable backend is still
// returned; callers check IsAvailable before generating.
func (r *Registry) Resolve(modelID string) (Backend, error) {
	b, ok := r.backends[modelID]
	if !ok {
		return nil, &NotFoundError{ModelID: modelID, Available: r.ModelIDs()}
	}
	if !b.IsAvailable() {
		log := logging.Component("provider")
		log.Warn().Str("model_id", modelID).Msg("resolved generation backend is not available")
	}
	return b, nil
}

// ResolveDefault resolves the configured default model id.
func (r *Registry) ResolveDefault() (Backend, error) {
	return r.Resolve(r.defaultModelID)
}

// DefaultModelID returns the configured default model id.
func (r *Registry) DefaultModelID() string {
	return r.defaultModelID
}

// ModelIDs returns the registered model ids, sorted.
func (r *Registry) ModelIDs() []string {
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BackendStatus is a read-only view of a registered backend.
type BackendStatus struct {
	ModelID   string `json:"model_id"`
	Available bool   `json:"available"`
	Default   bool   `json:"default"`
}

// Status lists every backend with its availability, sorted by model id.
func (r *Registry) Status() []BackendStatus {
	ids := r.ModelIDs()
	out := make([]BackendStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, BackendStatus{
			ModelID:   id,
			Available: r.backends[id].IsAvailable(),
			Default:   id == r.defaultModelID,
		})
	}
	return out
}
