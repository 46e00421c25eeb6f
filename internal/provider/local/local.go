// Package local exposes the device catalog as a content source.
package local

import (
	"context"

	"github.com/ruralcast/ruralcast/internal/core"
	"github.com/ruralcast/ruralcast/internal/provider"
)

// Source serves lessons from the on-device catalog.
type Source struct {
	*core.Catalog
	id string
}

// NewSource wraps a catalog.
func NewSource(id string, catalog *core.Catalog) *Source {
	return &Source{Catalog: catalog, id: id}
}

var _ provider.Source = (*Source)(nil)

func (s *Source) ID() string          { return s.id }
func (s *Source) Type() string        { return "local" }
func (s *Source) DisplayName() string { return "Device catalog" }

// CheckHealth is always healthy; the catalog lives in the device database.
func (s *Source) CheckHealth(context.Context) provider.HealthState {
	return provider.HealthStateHealthy
}
