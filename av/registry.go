package av

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/bus"
	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/media"
)

// BuildContext is everything a builder may consult.
type BuildContext struct {
	// Format is the descriptor the subgraph is built for.
	Format media.Descriptor
	// Upstream is the source caps of the previous stage, or the live source
	// caps for the first stage.
	Upstream media.Caps
	Config   StageConfig
	Bus      *bus.Bus
	Sender   interfaces.DatagramSender
	// Name is the subgraph name, used as the bus source of stage warnings.
	Name string
}

// Builder creates one stage. A builder returns an error wrapping
// ErrStageUnavailable or ErrCapsMismatch to let the role try its next
// attempt.
type Builder func(ctx BuildContext) (Stage, error)

// RoleSpec is one role of a recipe with its ordered builder attempts.
type RoleSpec struct {
	Role     Role
	Attempts []StageKind
}

// Recipe is the ordered role list of a subgraph.
type Recipe []RoleSpec

// Registry maps stage kinds to builders and format kinds to recipes.
type Registry struct {
	mu       sync.RWMutex
	builders map[StageKind]Builder
	recipes  map[media.Kind]Recipe
}

// NewRegistry creates a registry with no builders and the default recipes.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[StageKind]Builder),
		recipes:  DefaultRecipes(),
	}
}

// DefaultRegistry creates a registry with every built-in builder.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, b := range defaultBuilders() {
		r.Register(kind, b)
	}
	return r
}

// DefaultRecipes returns the recipe of every supported format kind.
func DefaultRecipes() map[media.Kind]Recipe {
	head := []RoleSpec{
		{Role: RoleConvert, Attempts: []StageKind{StageAudioConvert}},
		{Role: RoleResample, Attempts: []StageKind{StageAudioResample}},
	}
	sink := RoleSpec{Role: RoleSink, Attempts: []StageKind{StageUDPSink}}

	recipe := func(roles ...RoleSpec) Recipe {
		out := append(Recipe{}, head...)
		out = append(out, roles...)
		return append(out, sink)
	}

	return map[media.Kind]Recipe{
		media.KindPcm: recipe(
			RoleSpec{Role: RolePayload, Attempts: []StageKind{StageL16Pay}},
		),
		media.KindAc3: recipe(
			RoleSpec{Role: RoleEncode, Attempts: []StageKind{StageAC3Encode, StageMP3Encode}},
			RoleSpec{Role: RoleParse, Attempts: []StageKind{StageAC3Parse, StageMPAParse}},
			RoleSpec{Role: RolePayload, Attempts: []StageKind{StageAC3Pay, StageMPAPay}},
		),
		media.KindOpus: recipe(
			RoleSpec{Role: RoleEncode, Attempts: []StageKind{StageOpusEncode}},
			RoleSpec{Role: RolePayload, Attempts: []StageKind{StageOpusPay}},
		),
	}
}

// Register sets the builder for kind, replacing any previous one.
func (r *Registry) Register(kind StageKind, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Unregister removes the builder for kind. Recipes naming it skip to their
// next attempt.
func (r *Registry) Unregister(kind StageKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.builders, kind)
}

// SetRecipe replaces the recipe for a format kind.
func (r *Registry) SetRecipe(kind media.Kind, recipe Recipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipes[kind] = recipe
}

// Recipe returns the recipe for a format kind.
func (r *Registry) Recipe(kind media.Kind) (Recipe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recipe, ok := r.recipes[kind]
	if !ok || len(recipe) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecipe, kind)
	}
	return recipe, nil
}

// Build runs the builder for kind.
func (r *Registry) Build(kind StageKind, ctx BuildContext) (Stage, error) {
	r.mu.RLock()
	b, ok := r.builders[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, kind)
	}
	return b(ctx)
}

// buildRole tries every attempt of spec in order and returns the first
// stage built. Attempts failing with a fall-through error are skipped; any
// other error, or running out of attempts, is a construction failure.
func (r *Registry) buildRole(spec RoleSpec, ctx BuildContext) (Stage, StageKind, error) {
	var lastErr error
	for _, kind := range spec.Attempts {
		stage, err := r.Build(kind, ctx)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Registry.buildRole",
				"role":     spec.Role,
				"kind":     kind.String(),
				"stage":    stage.Name(),
				"upstream": ctx.Upstream.String(),
			}).Debug("Stage built")
			return stage, kind, nil
		}

		lastErr = &StageError{Role: spec.Role, Kind: kind, Err: err}
		if !fallsThrough(err) {
			break
		}
		logrus.WithFields(logrus.Fields{
			"function": "Registry.buildRole",
			"role":     spec.Role,
			"kind":     kind.String(),
			"error":    err.Error(),
		}).Info("Stage attempt failed, trying next")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("role %s has no attempts", spec.Role)
	}
	return nil, 0, fmt.Errorf("%w: %w", ErrConstruction, lastErr)
}
