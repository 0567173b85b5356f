package sync

import (
	"github.com/cutover-sh/cutover/internal/breaker"
	"github.com/cutover-sh/cutover/internal/storage"
)

// resourceTypeFor maps a storage kind to the breaker profile guarding it.
func resourceTypeFor(k storage.Kind) breaker.ResourceType {
	switch k {
	case storage.KindKeyValue:
		return breaker.ResourceKVStore
	case storage.KindRelational:
		return breaker.ResourceDatabase
	case storage.KindObject:
		return breaker.ResourceObjectStore
	default:
		return breaker.ResourceExternalService
	}
}
