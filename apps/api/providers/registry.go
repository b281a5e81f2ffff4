package providers

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrUnknownProvider is returned when a feed onestop_id is not in the registry
var ErrUnknownProvider = errors.New("unknown provider")

// Kind is the provider type
type Kind string

const (
	KindGTFS Kind = "gtfs"
	KindBike Kind = "bike"
)

// Realtime holds the optional realtime endpoints of a provider
type Realtime struct {
	TripUpdatesURL string            `yaml:"trip_updates_url" validate:"omitempty,url"`
	Headers        map[string]string `yaml:"headers"`
}

// Provider is one entry of the provider registry file
type Provider struct {
	OnestopID string `yaml:"onestop_id" validate:"required"`
	Name      string `yaml:"name"`
	Kind      Kind   `yaml:"kind" validate:"omitempty,oneof=gtfs bike"`
	ShowLines bool   `yaml:"showlines"`
	Color     string `yaml:"color"`
	Timezone  string `yaml:"timezone"`

	// Mergeable maps partner onestop_ids to a flag. It is decoded untyped
	// so that a malformed entry only drops the provider from merging
	// instead of failing the whole file.
	Mergeable interface{} `yaml:"mergeable"`

	Realtime Realtime `yaml:"realtime"`
}

// HasTripUpdates reports whether the provider publishes its own GTFS-RT trip updates
func (p Provider) HasTripUpdates() bool {
	return p.Realtime.TripUpdatesURL != ""
}

// mergeableMap returns the mergeable entry when it is a mapping
func (p Provider) mergeableMap() (map[string]interface{}, bool) {
	switch m := p.Mergeable.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			if id, ok := k.(string); ok {
				out[id] = v
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// MergePartners returns the partners flagged with a literal true, sorted
func (p Provider) MergePartners() []string {
	m, _ := p.mergeableMap()
	partners := make([]string, 0, len(m))
	for id, v := range m {
		if ok, isBool := v.(bool); isBool && ok {
			partners = append(partners, id)
		}
	}
	sort.Strings(partners)
	return partners
}

type registryFile struct {
	Providers []Provider `yaml:"providers"`
}

// Registry is the in-memory provider lookup, built once per load
type Registry struct {
	providers map[string]Provider
	order     []string
	groups    *MergeGroups
}

// Load reads and validates a registry file. JSON files are accepted as YAML.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a registry document
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}
	return New(file.Providers)
}

// New validates the providers and builds the registry
func New(list []Provider) (*Registry, error) {
	v := validator.New()
	r := &Registry{
		providers: make(map[string]Provider, len(list)),
		order:     make([]string, 0, len(list)),
	}
	for i, p := range list {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("invalid provider at index %d: %w", i, err)
		}
		if _, dup := r.providers[p.OnestopID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.OnestopID)
		}
		if p.Kind == "" {
			p.Kind = KindGTFS
		}
		r.providers[p.OnestopID] = p
		r.order = append(r.order, p.OnestopID)
	}
	r.groups = NewMergeGroups(list)
	return r, nil
}

// Get returns a provider by onestop_id
func (r *Registry) Get(onestopID string) (Provider, error) {
	p, ok := r.providers[onestopID]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, onestopID)
	}
	return p, nil
}

// All returns the providers in file order
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// ShowLines returns the onestop_ids of providers whose route lines are drawn on the map
func (r *Registry) ShowLines() []string {
	var ids []string
	for _, id := range r.order {
		if r.providers[id].ShowLines {
			ids = append(ids, id)
		}
	}
	return ids
}

// Groups returns the merge groups derived from the registry
func (r *Registry) Groups() *MergeGroups {
	return r.groups
}

// Len returns the number of providers
func (r *Registry) Len() int {
	return len(r.order)
}
