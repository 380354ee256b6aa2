package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/tracksync/internal/interfaces"
	"github.com/ternarybob/tracksync/internal/models"
)

// GetJobCredentials returns the most recent rotation of the job's credential. A
// pinned credential selects the (provider, workspace, user) to follow; otherwise
// the job's own identifiers are used.
func GetJobCredentials(ctx context.Context, store interfaces.CredentialStorage, job *models.Job) (*models.Credential, error) {
	if job.CredentialID != "" {
		pinned, err := store.GetCredential(ctx, job.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential %s for job %s: %w", job.CredentialID, job.ID, err)
		}
		latest, err := store.GetLatestCredential(ctx, pinned.IntegrationKey, pinned.WorkspaceID, pinned.UserID)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return pinned, nil
			}
			return nil, fmt.Errorf("failed to resolve latest credential for job %s: %w", job.ID, err)
		}
		return latest, nil
	}

	cred, err := store.GetLatestCredential(ctx, job.IntegrationKey, job.WorkspaceID, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential for job %s: %w", job.ID, err)
	}
	return cred, nil
}

// providerOptions derives the client endpoint of a self-hosted installation from the credential.
func providerOptions(cred *models.Credential) interfaces.ProviderOptions {
	host := cred.SourceHostname
	if host == "" {
		return interfaces.ProviderOptions{}
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return interfaces.ProviderOptions{BaseURL: host}
}
