package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/common"
	"github.com/ternarybob/tracksync/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	job        interfaces.JobStorage
	report     interfaces.ReportStorage
	credential interfaces.CredentialStorage
	connection interfaces.ConnectionStorage
	batchPlan  interfaces.BatchPlanStorage
	kv         interfaces.KeyValueStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return newManager(db, logger), nil
}

// NewManagerWithDB wraps an already open database
func NewManagerWithDB(db *BadgerDB, logger arbor.ILogger) *Manager {
	return newManager(db, logger)
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	manager := &Manager{
		db:         db,
		job:        NewJobStorage(db, logger),
		report:     NewReportStorage(db, logger),
		credential: NewCredentialStorage(db, logger),
		connection: NewConnectionStorage(db, logger),
		batchPlan:  NewBatchPlanStorage(db, logger),
		kv:         NewKVStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ReportStorage returns the import report storage interface
func (m *Manager) ReportStorage() interfaces.ReportStorage {
	return m.report
}

// CredentialStorage returns the Credential storage interface
func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credential
}

// ConnectionStorage returns the Connection storage interface
func (m *Manager) ConnectionStorage() interfaces.ConnectionStorage {
	return m.connection
}

// BatchPlanStorage returns the BatchPlan storage interface
func (m *Manager) BatchPlanStorage() interfaces.BatchPlanStorage {
	return m.batchPlan
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// DB returns the underlying database connection
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// LoadConnectionsFromFiles seeds connections and credentials from TOML files
func (m *Manager) LoadConnectionsFromFiles(ctx context.Context, dirPath string) error {
	return LoadConnectionsFromFiles(ctx, m.connection, m.credential, dirPath, m.logger)
}
