package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CredentialStorage implements append-only credential storage for Badger.
// Rows are never updated; a CredentialHead per (provider, workspace, user)
// points at the row with the highest sequence.
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CredentialStorage) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.Store().Get(credentialID, &cred); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("credential %s: %w", credentialID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

func (s *CredentialStorage) GetLatestCredential(ctx context.Context, key models.IntegrationKey, workspaceID, userID string) (*models.Credential, error) {
	headKey := models.CredentialHeadKey(key, workspaceID, userID)
	var head models.CredentialHead
	if err := s.db.Store().Get(headKey, &head); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("credential for %s: %w", headKey, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential head: %w", err)
	}
	return s.GetCredential(ctx, head.CredentialID)
}

// CreateCredential appends the row and advances the head in one transaction
func (s *CredentialStorage) CreateCredential(ctx context.Context, cred *models.Credential) error {
	if cred.ID == "" {
		return fmt.Errorf("credential ID is required")
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	store := s.db.Store()
	headKey := cred.HeadKey()

	return s.db.Badger().Update(func(tx *badger.Txn) error {
		var head models.CredentialHead
		err := store.TxGet(tx, headKey, &head)
		switch {
		case err == nil:
			if cred.Sequence <= head.Sequence {
				return fmt.Errorf("sequence %d is not newer than %d: %w", cred.Sequence, head.Sequence, models.ErrStaleRotation)
			}
		case errors.Is(err, badgerhold.ErrNotFound):
		default:
			return fmt.Errorf("failed to read credential head: %w", err)
		}

		if err := store.TxInsert(tx, cred.ID, cred); err != nil {
			return fmt.Errorf("failed to insert credential: %w", err)
		}

		head = models.CredentialHead{
			Key:          headKey,
			CredentialID: cred.ID,
			Sequence:     cred.Sequence,
			UpdatedAt:    cred.CreatedAt,
		}
		if err := store.TxUpsert(tx, headKey, &head); err != nil {
			return fmt.Errorf("failed to advance credential head: %w", err)
		}
		return nil
	})
}

// ListCredentials returns the rotation history, oldest first
func (s *CredentialStorage) ListCredentials(ctx context.Context, key models.IntegrationKey, workspaceID, userID string) ([]*models.Credential, error) {
	var creds []models.Credential
	query := badgerhold.Where("IntegrationKey").Eq(key).
		And("WorkspaceID").Eq(workspaceID).
		And("UserID").Eq(userID)
	if err := s.db.Store().Find(&creds, query); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	result := make([]*models.Credential, len(creds))
	for i := range creds {
		result[i] = &creds[i]
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}
