package repository

import (
	"context"
	"fmt"
)

// Backend names a session store implementation.
type Backend string

const (
	BackendDynamo   Backend = "dynamo"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// ParseBackend validates a configured backend name.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case BackendDynamo, BackendSQLite, BackendPostgres:
		return b, nil
	}
	return "", fmt.Errorf("unknown session backend %q: must be dynamo, sqlite or postgres", name)
}

// DatabaseHealth is an interface for database health checks.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Close() error
}

// Store bundles a session repository with the connection that backs it.
type Store struct {
	Backend  Backend
	Sessions SessionRepository

	// Database is nil for backends without a closable connection.
	Database DatabaseHealth
}

// Close releases the underlying connection, if any.
func (s *Store) Close() error {
	if s.Database == nil {
		return nil
	}
	return s.Database.Close()
}
