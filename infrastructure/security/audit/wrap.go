package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/felixgeelhaar/roundtable/domain/task"
	"github.com/felixgeelhaar/roundtable/domain/vault"
	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	"github.com/felixgeelhaar/roundtable/infrastructure/security/sandbox"
)

// record logs event and reports a failing logger without failing the
// audited operation.
func record(ctx context.Context, logger Logger, event Event) {
	runID, userID := task.RunFromContext(ctx)
	if event.RunID == "" {
		event.RunID = runID
	}
	if event.UserID == "" {
		event.UserID = userID
	}
	if err := logger.Log(ctx, event); err != nil {
		logging.Warn().
			Add(logging.Component("audit")).
			Add(logging.Str("event_type", string(event.EventType))).
			Add(logging.ErrorField(err)).
			Msg("audit record dropped")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// HashScript returns the hex SHA-256 of a script.
func HashScript(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// Sandbox audits every run of the wrapped provider. The script itself is
// recorded only as a hash.
type Sandbox struct {
	sandbox.Provider
	logger Logger
}

// WrapSandbox returns p with execution auditing.
func WrapSandbox(p sandbox.Provider, logger Logger) *Sandbox {
	return &Sandbox{Provider: p, logger: logger}
}

// Run implements sandbox.Provider.
func (s *Sandbox) Run(ctx context.Context, h sandbox.Handle, script string, timeout time.Duration) (sandbox.RunResult, error) {
	start := time.Now()
	res, err := s.Provider.Run(ctx, h, script, timeout)

	record(ctx, s.logger, Event{
		Timestamp:  start,
		EventType:  EventSandboxExecution,
		Provider:   s.Provider.Name(),
		ScriptHash: HashScript(script),
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		Success:    err == nil && !res.TimedOut && res.ExitCode == 0,
		Error:      errString(err),
		Duration:   time.Since(start),
	})
	return res, err
}

// Vault audits access to a secret store. Only key names are recorded.
type Vault struct {
	store  vault.Store
	logger Logger
}

// WrapVault returns store with access auditing.
func WrapVault(store vault.Store, logger Logger) *Vault {
	return &Vault{store: store, logger: logger}
}

// GetAll implements vault.Store.
func (v *Vault) GetAll(ctx context.Context, userID string) (map[string]string, error) {
	env, err := v.store.GetAll(ctx, userID)
	record(ctx, v.logger, Event{EventType: EventSecretRead, UserID: userID, Success: err == nil, Error: errString(err)})
	return env, err
}

// Set implements vault.Store.
func (v *Vault) Set(ctx context.Context, userID, key, value string) error {
	err := v.store.Set(ctx, userID, key, value)
	record(ctx, v.logger, Event{EventType: EventSecretWrite, UserID: userID, Key: key, Success: err == nil, Error: errString(err)})
	return err
}

// Delete implements vault.Store.
func (v *Vault) Delete(ctx context.Context, userID, key string) error {
	err := v.store.Delete(ctx, userID, key)
	record(ctx, v.logger, Event{EventType: EventSecretDelete, UserID: userID, Key: key, Success: err == nil, Error: errString(err)})
	return err
}

// Keys implements vault.Store.
func (v *Vault) Keys(ctx context.Context, userID string) ([]string, error) {
	keys, err := v.store.Keys(ctx, userID)
	record(ctx, v.logger, Event{EventType: EventSecretList, UserID: userID, Success: err == nil, Error: errString(err)})
	return keys, err
}

