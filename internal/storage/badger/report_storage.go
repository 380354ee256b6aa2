package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ReportStorage implements the ReportStorage interface for Badger
type ReportStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewReportStorage creates a new ReportStorage instance
func NewReportStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ReportStorage {
	return &ReportStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ReportStorage) CreateReport(ctx context.Context, report *models.ImportReport) error {
	if report.ID == "" {
		return fmt.Errorf("report ID is required")
	}
	now := time.Now()
	if report.StartedAt.IsZero() {
		report.StartedAt = now
	}
	report.UpdatedAt = now
	if err := s.db.Store().Insert(report.ID, report); err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

func (s *ReportStorage) GetReport(ctx context.Context, reportID string) (*models.ImportReport, error) {
	var report models.ImportReport
	if err := s.db.Store().Get(reportID, &report); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("report %s: %w", reportID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &report, nil
}

// UpdateReport applies the delta with read-modify-write inside one Badger transaction
func (s *ReportStorage) UpdateReport(ctx context.Context, reportID string, delta models.ReportDelta) (*models.ImportReport, error) {
	var report models.ImportReport
	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		return applyReportDelta(s.db.Store(), tx, reportID, delta, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func applyReportDelta(store *badgerhold.Store, tx *badger.Txn, reportID string, delta models.ReportDelta, report *models.ImportReport) error {
	if err := store.TxGet(tx, reportID, report); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("report %s: %w", reportID, interfaces.ErrNotFound)
		}
		return fmt.Errorf("failed to read report: %w", err)
	}
	delta.Apply(report)
	if err := store.TxUpsert(tx, reportID, report); err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	return nil
}
