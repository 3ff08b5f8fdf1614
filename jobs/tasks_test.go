package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lancemakesmusic/m1a-authz/internal/identity"
)

type stubProvider struct {
	resetErr error
	resets   []string
}

func (s *stubProvider) CreateAccount(ctx context.Context, email, password string) (string, error) {
	return "", errors.New("not used")
}

func (s *stubProvider) DeleteAccount(ctx context.Context, providerID string) error {
	return errors.New("not used")
}

func (s *stubProvider) SendCredentialReset(ctx context.Context, email string) error {
	if s.resetErr != nil {
		return s.resetErr
	}
	s.resets = append(s.resets, email)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewCredentialResetTask(t *testing.T) {
	task, err := NewCredentialResetTask(CredentialResetPayload{Email: "new.hire@example.com"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeCredentialReset, task.Type())

	var payload CredentialResetPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "new.hire@example.com", payload.Email)
}

func TestCredentialResetHandler(t *testing.T) {
	provider := &stubProvider{}
	handler := NewCredentialResetHandler(provider, testLogger())

	task, err := NewCredentialResetTask(CredentialResetPayload{Email: "new.hire@example.com"})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, []string{"new.hire@example.com"}, provider.resets)
}

func TestCredentialResetHandlerSkipsMalformedPayload(t *testing.T) {
	handler := NewCredentialResetHandler(&stubProvider{}, testLogger())
	err := handler(context.Background(), asynq.NewTask(TaskTypeCredentialReset, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestCredentialResetHandlerSkipsUnknownAccount(t *testing.T) {
	handler := NewCredentialResetHandler(&stubProvider{resetErr: identity.ErrNotFound}, testLogger())
	task, err := NewCredentialResetTask(CredentialResetPayload{Email: "ghost@example.com"})
	require.NoError(t, err)
	assert.ErrorIs(t, handler(context.Background(), task), asynq.SkipRetry)
}

func TestCredentialResetHandlerRetriesOutages(t *testing.T) {
	handler := NewCredentialResetHandler(&stubProvider{resetErr: identity.ErrUnavailable}, testLogger())
	task, err := NewCredentialResetTask(CredentialResetPayload{Email: "new.hire@example.com"})
	require.NoError(t, err)

	err = handler(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry, "provider outages must stay retryable")
}
