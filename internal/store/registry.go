// Package store provee el registry de adaptadores de base de datos.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
)

// Adapter representa un driver capaz de abrir una réplica.
type Adapter interface {
	// Name retorna el nombre del adapter (ej: "postgres", "sqlite", "memory").
	Name() string

	// Connect abre la réplica descrita por cfg.
	Connect(ctx context.Context, cfg AdapterConfig) (Connection, error)
}

// Connection es una réplica abierta. Las réplicas edge implementan
// también repository.EdgeStore; las que además oficien de hub exponen
// los stores de control (conflictos, cursores, configs, stats).
type Connection interface {
	repository.ReplicaStore

	// ─── Stores de control (nil si el adapter no los soporta) ───

	Conflicts() repository.ConflictStore
	Cursors() repository.CursorStore
	Configs() repository.SyncConfigStore
	Stats() repository.StatsStore
}

// AdapterConfig configuración para abrir una réplica.
type AdapterConfig struct {
	// Name del adapter: "postgres", "sqlite", "memory"
	Name string

	// ReplicaName nombre lógico de la réplica ("hub", "north", ...)
	ReplicaName string

	// Code componente de vector clock de esta réplica
	Code string

	// DSN connection string
	DSN string

	// Pool settings (postgres)
	MaxOpenConns int

	// Migrate ejecuta las migraciones embebidas al conectar
	Migrate bool
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("adapter: %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres de todos los adapters registrados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	return names
}

// Open abre una réplica usando el adapter que indica la config.
func Open(ctx context.Context, cfg AdapterConfig) (Connection, error) {
	a, ok := GetAdapter(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("adapter: %q not registered", cfg.Name)
	}
	return a.Connect(ctx, cfg)
}
