package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ConnectionStorage implements the ConnectionStorage interface for Badger
type ConnectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConnectionStorage creates a new ConnectionStorage instance
func NewConnectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ConnectionStorage {
	return &ConnectionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ConnectionStorage) SaveWorkspaceConnection(ctx context.Context, conn *models.WorkspaceConnection) error {
	if conn.ID == "" {
		return fmt.Errorf("workspace connection ID is required")
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(conn.ID, conn); err != nil {
		return fmt.Errorf("failed to save workspace connection: %w", err)
	}
	return nil
}

func (s *ConnectionStorage) GetWorkspaceConnection(ctx context.Context, id string) (*models.WorkspaceConnection, error) {
	var conn models.WorkspaceConnection
	if err := s.db.Store().Get(id, &conn); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("workspace connection %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workspace connection: %w", err)
	}
	return &conn, nil
}

func (s *ConnectionStorage) ListWorkspaceConnections(ctx context.Context) ([]*models.WorkspaceConnection, error) {
	var conns []models.WorkspaceConnection
	if err := s.db.Store().Find(&conns, nil); err != nil {
		return nil, fmt.Errorf("failed to list workspace connections: %w", err)
	}
	result := make([]*models.WorkspaceConnection, len(conns))
	for i := range conns {
		result[i] = &conns[i]
	}
	return result, nil
}

func (s *ConnectionStorage) SaveEntityConnection(ctx context.Context, conn *models.EntityConnection) error {
	if conn.ID == "" {
		return fmt.Errorf("entity connection ID is required")
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(conn.ID, conn); err != nil {
		return fmt.Errorf("failed to save entity connection: %w", err)
	}
	return nil
}

// FindEntityConnection resolves the project mapping of a provider entity.
// An empty connType matches any type.
func (s *ConnectionStorage) FindEntityConnection(ctx context.Context, key models.IntegrationKey, entityID string, connType models.EntityConnectionType) (*models.EntityConnection, error) {
	query := badgerhold.Where("EntityID").Eq(entityID).And("IntegrationKey").Eq(key)
	if connType != "" {
		query = query.And("Type").Eq(connType)
	}

	var conns []models.EntityConnection
	if err := s.db.Store().Find(&conns, query.Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find entity connection: %w", err)
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("entity connection %s/%s: %w", key, entityID, interfaces.ErrNotFound)
	}
	return &conns[0], nil
}

func (s *ConnectionStorage) ListEntityConnections(ctx context.Context, workspaceConnectionID string) ([]*models.EntityConnection, error) {
	var conns []models.EntityConnection
	if err := s.db.Store().Find(&conns, badgerhold.Where("WorkspaceConnectionID").Eq(workspaceConnectionID)); err != nil {
		return nil, fmt.Errorf("failed to list entity connections: %w", err)
	}
	result := make([]*models.EntityConnection, len(conns))
	for i := range conns {
		result[i] = &conns[i]
	}
	return result, nil
}
