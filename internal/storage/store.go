package storage

import (
	"context"

	"ctxpack/internal/contract"
	"ctxpack/internal/graph"
)

// Store persists the live contract set so a restarted session can seed its
// cache without re-running extraction.
type Store interface {
	ContractStore
	Close() error
}

// ContractStore defines operations for persisting contracts and their links.
type ContractStore interface {
	// SaveSnapshot replaces the stored contracts and edges with the manifest's.
	SaveSnapshot(ctx context.Context, m *graph.Manifest) error

	// LoadContracts returns every stored contract sorted by entryId.
	LoadContracts(ctx context.Context) ([]*contract.Contract, error)

	// GetContract retrieves one contract by entryId.
	GetContract(ctx context.Context, entryID string) (*contract.Contract, error)

	// FindDependents lists the stored entries that depend on entryID.
	FindDependents(ctx context.Context, entryID string) ([]string, error)
}
