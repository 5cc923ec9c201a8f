/*
registry.go - Service type registration and lookup

PURPOSE:
  Service packages register a description of themselves so that the
  HTTP layer, the payment consumer and the demo scenarios can list and
  route by service type without importing every package.

USAGE:
  // In dental/dental.go
  func init() {
      generic.RegisterService(generic.ServiceInfo{
          Type: generic.ServiceDental, Category: generic.CategoryDental, ...
      })
  }

  info, ok := generic.LookupService(generic.ServiceDental)

SEE ALSO:
  - lifecycle.go: ServiceDefinition, the typed counterpart
  - api/handlers.go: GET /api/services
*/
package generic

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// SERVICE REGISTRY
// =============================================================================

// ServiceInfo is the untyped part of a ServiceDefinition.
type ServiceInfo struct {
	Type             ServiceType  `json:"serviceType"`
	Category         CategoryCode `json:"categoryCode"`
	CategoryName     string       `json:"categoryName"`
	IDPrefix         string       `json:"idPrefix"`
	SlotCapacity     int          `json:"slotCapacity"`
	ConfirmOnPayment bool         `json:"confirmOnPayment"`
	Description      string       `json:"description"`
}

var (
	serviceRegistry = make(map[ServiceType]ServiceInfo)
	registryMu      sync.RWMutex
)

// Info derives the registry entry for a definition.
func (d ServiceDefinition[F]) Info(description string) ServiceInfo {
	return ServiceInfo{
		Type:             d.Type,
		Category:         d.Category,
		CategoryName:     d.Category.Name(),
		IDPrefix:         d.IDPrefix,
		SlotCapacity:     d.capacity(),
		ConfirmOnPayment: d.ConfirmOnPayment,
		Description:      description,
	}
}

// RegisterService adds a service type to the global registry.
// Call this from service package init() functions.
func RegisterService(info ServiceInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	serviceRegistry[info.Type] = info
}

// LookupService finds a registered service. ok is false if absent.
func LookupService(t ServiceType) (ServiceInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := serviceRegistry[t]
	return info, ok
}

// MustLookupService panics when t is not registered.
func MustLookupService(t ServiceType) ServiceInfo {
	info, ok := LookupService(t)
	if !ok {
		panic(fmt.Sprintf("service type not registered: %s", t))
	}
	return info
}

// ListServices returns registered services ordered by category code.
func ListServices() []ServiceInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]ServiceInfo, 0, len(serviceRegistry))
	for _, info := range serviceRegistry {
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Category < result[j].Category })
	return result
}

// ParseServiceType validates a service type from a URL or message. Case
// is ignored.
func ParseServiceType(s string) (ServiceType, error) {
	t := ServiceType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := LookupService(t); !ok {
		return "", NewValidationError("serviceType", "unknown service type %q", s)
	}
	return t, nil
}
