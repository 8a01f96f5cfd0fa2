// Package handler provides the App struct that serves as the API facade
// for the ingestion service, delegating to internal service components.
package handler

import (
	"costgrid/internal/config"
	"costgrid/internal/queue"
	"costgrid/internal/registry"
	"costgrid/internal/store"
)

// App binds the backend services the HTTP handlers depend on.
type App struct {
	registry      *registry.Registry
	store         store.Store
	runner        *queue.Runner
	configManager *config.ConfigManager
}

// NewApp creates a new App with all service dependencies injected.
func NewApp(reg *registry.Registry, st store.Store, runner *queue.Runner, cm *config.ConfigManager) *App {
	return &App{
		registry:      reg,
		store:         st,
		runner:        runner,
		configManager: cm,
	}
}
