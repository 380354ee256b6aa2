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

// BatchPlanStorage implements the BatchPlanStorage interface for Badger
type BatchPlanStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBatchPlanStorage creates a new BatchPlanStorage instance
func NewBatchPlanStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BatchPlanStorage {
	return &BatchPlanStorage{
		db:     db,
		logger: logger,
	}
}

// CreatePlanAndCount writes the plan and bumps the report totals together.
// If either write fails neither is visible.
func (s *BatchPlanStorage) CreatePlanAndCount(ctx context.Context, plan *models.BatchPlan, reportID string, entityCount int) error {
	if plan.ID == "" {
		return fmt.Errorf("batch plan ID is required")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	if len(plan.Dispatched) != len(plan.Batches) {
		plan.Dispatched = make([]bool, len(plan.Batches))
	}
	if len(plan.Completed) != len(plan.Batches) {
		plan.Completed = make([]bool, len(plan.Batches))
	}

	store := s.db.Store()
	return s.db.Badger().Update(func(tx *badger.Txn) error {
		if err := store.TxInsert(tx, plan.ID, plan); err != nil {
			return fmt.Errorf("failed to insert batch plan: %w", err)
		}
		var report models.ImportReport
		delta := models.ReportDelta{TotalBatches: len(plan.Batches), TotalIssues: entityCount}
		return applyReportDelta(store, tx, reportID, delta, &report)
	})
}

func (s *BatchPlanStorage) GetPlan(ctx context.Context, planID string) (*models.BatchPlan, error) {
	var plan models.BatchPlan
	if err := s.db.Store().Get(planID, &plan); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("batch plan %s: %w", planID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get batch plan: %w", err)
	}
	return &plan, nil
}

func (s *BatchPlanStorage) MarkDispatched(ctx context.Context, planID string, index int) error {
	_, err := s.update(planID, func(plan *models.BatchPlan) error {
		if index < 0 || index >= len(plan.Dispatched) {
			return fmt.Errorf("batch index %d out of range for plan %s", index, planID)
		}
		plan.Dispatched[index] = true
		return nil
	})
	return err
}

// MarkCompleted flags a pushed batch and closes the plan once every batch is done
func (s *BatchPlanStorage) MarkCompleted(ctx context.Context, planID string, index int) (*models.BatchPlan, error) {
	return s.update(planID, func(plan *models.BatchPlan) error {
		if index < 0 || index >= len(plan.Completed) {
			return fmt.Errorf("batch index %d out of range for plan %s", index, planID)
		}
		plan.Completed[index] = true
		if plan.CompletedAt == nil && plan.IsComplete() {
			now := time.Now()
			plan.CompletedAt = &now
		}
		return nil
	})
}

func (s *BatchPlanStorage) ListIncompletePlans(ctx context.Context) ([]*models.BatchPlan, error) {
	var plans []models.BatchPlan
	if err := s.db.Store().Find(&plans, badgerhold.Where("CompletedAt").IsNil()); err != nil {
		return nil, fmt.Errorf("failed to list batch plans: %w", err)
	}
	result := make([]*models.BatchPlan, len(plans))
	for i := range plans {
		result[i] = &plans[i]
	}
	return result, nil
}

func (s *BatchPlanStorage) update(planID string, mutate func(*models.BatchPlan) error) (*models.BatchPlan, error) {
	var plan models.BatchPlan
	store := s.db.Store()
	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		if err := store.TxGet(tx, planID, &plan); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("batch plan %s: %w", planID, interfaces.ErrNotFound)
			}
			return err
		}
		if err := mutate(&plan); err != nil {
			return err
		}
		return store.TxUpsert(tx, planID, &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
