package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralcast/ruralcast/internal/model"
	"github.com/ruralcast/ruralcast/internal/provider"
)

type stubSource struct{ id string }

func (s stubSource) ID() string          { return s.id }
func (s stubSource) Type() string        { return "stub" }
func (s stubSource) DisplayName() string { return "Stub " + s.id }
func (s stubSource) Lesson(context.Context, int64) (*model.Lesson, error) {
	return nil, model.ErrLessonNotFound
}
func (s stubSource) Variant(context.Context, int64, model.ContentTier) (*model.ContentVariant, error) {
	return nil, model.ErrVariantNotFound
}
func (s stubSource) Tiers(context.Context, int64) ([]model.ContentTier, error) { return nil, nil }
func (s stubSource) CheckHealth(context.Context) provider.HealthState {
	return provider.HealthStateHealthy
}

func TestRegistryPrimary(t *testing.T) {
	r := provider.NewRegistry()
	assert.Nil(t, r.Primary())

	require.NoError(t, r.Register(stubSource{"remote"}))
	require.NoError(t, r.Register(stubSource{"local"}))
	assert.Error(t, r.Register(stubSource{"remote"}), "duplicate id")

	assert.Equal(t, "remote", r.Primary().ID(), "first registered is primary")

	ids := []string{}
	for _, s := range r.All() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"local", "remote"}, ids)

	require.NoError(t, r.SetPrimary("local"))
	assert.Equal(t, "local", r.Primary().ID())
	assert.Error(t, r.SetPrimary("missing"))

	_, ok := r.Get("remote")
	assert.True(t, ok)
}

func TestRegistryRemovePrimary(t *testing.T) {
	r := provider.NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(stubSource{id}))
	}
	require.Equal(t, "c", r.Primary().ID())

	require.NoError(t, r.Remove("c"))
	assert.Equal(t, "a", r.Primary().ID())

	require.NoError(t, r.Remove("a"))
	require.NoError(t, r.Remove("b"))
	assert.Nil(t, r.Primary())
	assert.Error(t, r.Remove("b"))
}
