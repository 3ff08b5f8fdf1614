package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lancemakesmusic/m1a-authz/internal/identity"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeCredentialReset delivers a credential reset for a freshly
	// provisioned account.
	TaskTypeCredentialReset = "identity:credential_reset"
)

// CredentialResetPayload identifies the account to reset.
type CredentialResetPayload struct {
	Email string `json:"email"`
}

// NewCredentialResetTask constructs an Asynq task.
func NewCredentialResetTask(payload CredentialResetPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCredentialReset, data), nil
}

// NewCredentialResetHandler returns the worker-side handler. Unknown
// accounts are dropped without retry; provider outages are retried by Asynq.
func NewCredentialResetHandler(provider identity.Provider, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CredentialResetPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := provider.SendCredentialReset(ctx, payload.Email); err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				logger.Warn("credential reset for unknown account", slog.String("email", payload.Email))
				return asynq.SkipRetry
			}
			return err
		}
		logger.Info("credential reset issued", slog.String("email", payload.Email))
		return nil
	}
}
