// Package runtime provides the service lifecycle plumbing shared by every
// ccn subprocess: a registry of long-lived services started in dependency
// order and stopped in reverse.
package runtime

import (
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "registry")

// Service is a long-lived component of a ccn process. Construction wires
// dependencies; Start spawns goroutines; Stop blocks until they are done.
type Service interface {
	// Start spawns any goroutines required by the service.
	Start()
	// Stop terminates all goroutines belonging to the service, blocking
	// until they are all terminated.
	Stop() error
	// Status returns an error if the service is not considered healthy.
	Status() error
}

// ServiceRegistry keeps every registered service keyed by its concrete type,
// so dependents can fetch the same instance the node wired.
type ServiceRegistry struct {
	services     map[reflect.Type]Service
	serviceTypes []reflect.Type // registration order
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[reflect.Type]Service),
	}
}

// RegisterService adds a service to the registry. Each concrete type can be
// registered once per process.
func (s *ServiceRegistry) RegisterService(service Service) error {
	kind := reflect.TypeOf(service)
	if _, exists := s.services[kind]; exists {
		return fmt.Errorf("service already exists: %v", kind)
	}
	s.services[kind] = service
	s.serviceTypes = append(s.serviceTypes, kind)
	return nil
}

// StartAll launches every service in registration order.
func (s *ServiceRegistry) StartAll() {
	log.WithField("services", len(s.serviceTypes)).Debug("Starting services")
	for _, kind := range s.serviceTypes {
		log.WithField("service", kind.String()).Debug("Starting service")
		go s.services[kind].Start()
	}
}

// StopAll stops every service in reverse registration order so consumers go
// down before the infrastructure they depend on.
func (s *ServiceRegistry) StopAll() {
	for i := len(s.serviceTypes) - 1; i >= 0; i-- {
		kind := s.serviceTypes[i]
		if err := s.services[kind].Stop(); err != nil {
			log.WithError(err).WithField("service", kind.String()).Error("Could not stop service")
		}
	}
}

// Statuses polls every service, keyed by concrete type.
func (s *ServiceRegistry) Statuses() map[reflect.Type]error {
	m := make(map[reflect.Type]error, len(s.serviceTypes))
	for _, kind := range s.serviceTypes {
		m[kind] = s.services[kind].Status()
	}
	return m
}

// FetchService sets the value pointed at by service to the registered
// instance of that type.
func (s *ServiceRegistry) FetchService(service interface{}) error {
	if reflect.TypeOf(service).Kind() != reflect.Ptr {
		return fmt.Errorf("input must be of pointer type, received value type instead: %T", service)
	}
	element := reflect.ValueOf(service).Elem()
	if running, ok := s.services[element.Type()]; ok {
		element.Set(reflect.ValueOf(running))
		return nil
	}
	return fmt.Errorf("unknown service: %T", service)
}
