// Package specialist provides the specialist registry: built-in roles,
// file-loaded entries, capability extensions and on-demand synthesis of
// transient experts.
package specialist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/roundtable/domain/specialist"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
)

// DefaultCacheSize bounds the number of cached transient specialists.
const DefaultCacheSize = 128

// Synthesizer generates an entry for a role the registry does not know.
type Synthesizer interface {
	Synthesize(ctx context.Context, role specialist.Role) (specialist.Entry, error)
}

// Registry resolves roles to specialist entries. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	entries     map[specialist.Role]specialist.Entry
	skills      map[string]specialist.Extension
	transient   *lru.Cache[specialist.Role, specialist.Entry]
	group       singleflight.Group
	synthesizer Synthesizer
}

// Option configures the registry.
type Option func(*options)

type options struct {
	cacheSize   int
	synthesizer Synthesizer
}

// WithCacheSize sets the transient specialist cache size.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithSynthesizer sets the synthesizer used for unknown roles.
func WithSynthesizer(s Synthesizer) Option {
	return func(o *options) {
		o.synthesizer = s
	}
}

// NewRegistry creates a registry seeded with the built-in entries and skills.
func NewRegistry(opts ...Option) (*Registry, error) {
	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[specialist.Role, specialist.Entry](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create specialist cache: %w", err)
	}

	r := &Registry{
		entries:     make(map[specialist.Role]specialist.Entry),
		skills:      make(map[string]specialist.Extension),
		transient:   cache,
		synthesizer: o.synthesizer,
	}
	for _, e := range BuiltinEntries() {
		r.entries[e.Role] = e
	}
	for _, s := range BuiltinSkills() {
		r.skills[s.ID] = s
	}
	return r, nil
}

// SetSynthesizer sets the synthesizer after construction. The gateway and
// the registry depend on each other, so one of them is wired late.
func (r *Registry) SetSynthesizer(s Synthesizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer = s
}

// Register adds or replaces an entry.
func (r *Registry) Register(e specialist.Entry) error {
	e.Role = specialist.Normalize(string(e.Role))
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Tier == "" {
		e.Tier = specialist.TierStandard
	}
	if e.Name == "" {
		e.Name = string(e.Role)
	}
	e.Transient = false

	r.mu.Lock()
	r.entries[e.Role] = e
	r.mu.Unlock()
	r.transient.Remove(e.Role)
	return nil
}

// RegisterSkill adds or replaces a capability extension.
func (r *Registry) RegisterSkill(s specialist.Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[s.ID] = s
}

// Skill returns a known capability extension.
func (r *Registry) Skill(id string) (specialist.Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

// Roles returns the registered roles in sorted order.
func (r *Registry) Roles() []specialist.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]specialist.Role, 0, len(r.entries))
	for role := range r.entries {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Resolve returns the entry for role with the given extensions injected into
// its instructions. Unknown roles are synthesized once and cached; concurrent
// misses for the same role share one synthesis call.
func (r *Registry) Resolve(ctx context.Context, role specialist.Role, extensions []string) (specialist.Entry, error) {
	role = specialist.Normalize(string(role))
	if role == "" {
		return specialist.Entry{}, specialist.ErrInvalidRole
	}

	entry, err := r.lookup(ctx, role)
	if err != nil {
		return specialist.Entry{}, err
	}

	r.mu.RLock()
	entry.Instructions = inject(entry.Instructions, extensions, r.skills)
	r.mu.RUnlock()
	return entry, nil
}

func (r *Registry) lookup(ctx context.Context, role specialist.Role) (specialist.Entry, error) {
	r.mu.RLock()
	entry, ok := r.entries[role]
	synth := r.synthesizer
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}

	if cached, ok := r.transient.Get(role); ok {
		return cached, nil
	}
	if synth == nil {
		return specialist.Entry{}, fmt.Errorf("%w: no synthesizer for role %q", specialist.ErrSynthesisFailed, role)
	}

	v, err, shared := r.group.Do(string(role), func() (any, error) {
		if cached, ok := r.transient.Get(role); ok {
			return cached, nil
		}
		e, err := synth.Synthesize(ctx, role)
		if err != nil {
			return specialist.Entry{}, err
		}
		e.Role = role
		e.Transient = true
		r.transient.Add(role, e)
		logging.Info().
			Add(logging.Role(string(role))).
			Add(logging.Str("specialist", e.Name)).
			Msg("synthesized transient specialist")
		return e, nil
	})
	if err != nil {
		return specialist.Entry{}, err
	}
	if shared {
		logging.Debug().Add(logging.Role(string(role))).Msg("shared specialist synthesis")
	}
	return v.(specialist.Entry), nil
}

// Transient returns the number of cached transient specialists.
func (r *Registry) Transient() int {
	return r.transient.Len()
}

var _ specialist.Resolver = (*Registry)(nil)
