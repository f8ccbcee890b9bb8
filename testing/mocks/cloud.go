// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cooodecat/otto-handler/cloud"
)

// MockContainerRegistry implements cloud.ContainerRegistry for testing
type MockContainerRegistry struct {
	mock.Mock
}

func (m *MockContainerRegistry) CreateRepository(ctx context.Context, name string) (cloud.Repository, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(cloud.Repository), args.Error(1)
}

func (m *MockContainerRegistry) DeleteRepository(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// MockLogDestinations implements cloud.LogDestinations for testing
type MockLogDestinations struct {
	mock.Mock
}

func (m *MockLogDestinations) CreateLogGroup(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockLogDestinations) DeleteLogGroup(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// MockBuildService implements cloud.BuildService for testing
type MockBuildService struct {
	mock.Mock
}

func (m *MockBuildService) CreateProject(ctx context.Context, spec cloud.BuildProjectSpec) (cloud.BuildProject, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(cloud.BuildProject), args.Error(1)
}

func (m *MockBuildService) DeleteProject(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockBuildService) StartBuild(ctx context.Context, req cloud.StartBuildRequest) (cloud.Build, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(cloud.Build), args.Error(1)
}

func (m *MockBuildService) GetBuild(ctx context.Context, id string) (cloud.Build, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(cloud.Build), args.Error(1)
}

// MockEventBus implements cloud.EventBus for testing
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) PutRule(ctx context.Context, spec cloud.RuleSpec) (cloud.Rule, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(cloud.Rule), args.Error(1)
}

func (m *MockEventBus) PutTarget(ctx context.Context, rule string, target cloud.Target) error {
	args := m.Called(ctx, rule, target)
	return args.Error(0)
}

func (m *MockEventBus) DeleteRule(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}
