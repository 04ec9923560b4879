package driven

import "github.com/ericfisherdev/authenticator/internal/domain/model"

// ProviderCatalog is the read-only provider lookup used for auto-fill and
// defaults. Lookups are advisory: a miss returns model.UnknownProvider and
// must never block account creation.
type ProviderCatalog interface {
	Lookup(name string) model.ProviderEntry
	Search(prefix string, limit int) []model.ProviderEntry
	Len() int
}
