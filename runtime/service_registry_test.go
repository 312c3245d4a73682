package runtime

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	status  error
	stopLog *[]string
	name    string
}

type secondMockService struct {
	mockService
}

func (_ *mockService) Start() {}

func (m *mockService) Stop() error {
	if m.stopLog != nil {
		*m.stopLog = append(*m.stopLog, m.name)
	}
	return nil
}

func (m *mockService) Status() error {
	return m.status
}

func TestRegisterServiceTwice(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m))
	require.Len(t, registry.serviceTypes, 1)

	err := registry.RegisterService(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service already exists")
}

func TestRegisterDifferentServices(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	s := &secondMockService{}
	require.NoError(t, registry.RegisterService(m))
	require.NoError(t, registry.RegisterService(s))
	require.Len(t, registry.serviceTypes, 2)

	_, exists := registry.services[reflect.TypeOf(m)]
	assert.True(t, exists)
	_, exists = registry.services[reflect.TypeOf(s)]
	assert.True(t, exists)
}

func TestFetchService(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	require.NoError(t, registry.RegisterService(m))

	err := registry.FetchService(*m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input must be of pointer type")

	var unknown *secondMockService
	err = registry.FetchService(&unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")

	var fetched *mockService
	require.NoError(t, registry.FetchService(&fetched))
	require.Same(t, m, fetched)
}

func TestStatuses(t *testing.T) {
	registry := NewServiceRegistry()

	m := &mockService{}
	s := &secondMockService{}
	require.NoError(t, registry.RegisterService(m))
	require.NoError(t, registry.RegisterService(s))

	m.status = errors.New("broker connection lost")
	statuses := registry.Statuses()

	require.Error(t, statuses[reflect.TypeOf(m)])
	assert.Contains(t, statuses[reflect.TypeOf(m)].Error(), "broker connection lost")
	assert.NoError(t, statuses[reflect.TypeOf(s)])
}

func TestStopAllReversesStartOrder(t *testing.T) {
	registry := NewServiceRegistry()

	var stops []string
	m := &mockService{stopLog: &stops, name: "first"}
	s := &secondMockService{mockService{stopLog: &stops, name: "second"}}
	require.NoError(t, registry.RegisterService(m))
	require.NoError(t, registry.RegisterService(s))

	registry.StopAll()
	require.Equal(t, []string{"second", "first"}, stops)
}
