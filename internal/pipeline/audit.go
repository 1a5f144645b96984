// Package pipeline implements the event-driven processing stages: watch
// discovers documents, compare analyzes them against policy, score
// recomputes the compliance score, and anomaly raises synthetic
// transaction alerts. Stages communicate through the bus and record every
// invocation in the audit log.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/regwatchd/internal/model"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
)

// auditRun wraps one stage invocation in an audit entry. The entry is
// created in_progress before fn runs and finalized to success or failed in
// a deferred block, so no invocation leaves a dangling in_progress row even
// when fn panics. A panic is recorded as failed and then re-raised for the
// stage boundary to handle.
func auditRun(
	ctx context.Context,
	audits store.AuditStore,
	logger *zap.Logger,
	stage, action, documentID string,
	input map[string]any,
	fn func(ctx context.Context) (map[string]any, error),
) (runErr error) {
	entry := &model.AuditEntry{
		Stage:      stage,
		Action:     action,
		DocumentID: documentID,
		Input:      input,
		StartedAt:  time.Now(),
	}
	if err := audits.CreateAuditEntry(ctx, entry); err != nil {
		// The stage still runs when audit bookkeeping is unavailable.
		logger.Error("creating audit entry",
			zap.String("stage", stage), zap.String("action", action), zap.Error(err))
		_, runErr = fn(ctx)
		return runErr
	}

	defer func() {
		completed := time.Now()
		entry.CompletedAt = &completed
		entry.Duration = completed.Sub(entry.StartedAt)

		if r := recover(); r != nil {
			entry.Status = model.AuditFailed
			entry.Error = fmt.Sprintf("panic: %v", r)
			if err := audits.FinalizeAuditEntry(ctx, entry); err != nil {
				logger.Error("finalizing audit entry",
					zap.String("stage", stage), zap.String("entry_id", entry.ID), zap.Error(err))
			}
			panic(r)
		}

		if runErr != nil {
			entry.Status = model.AuditFailed
			entry.Error = runErr.Error()
		} else {
			entry.Status = model.AuditSuccess
		}
		if err := audits.FinalizeAuditEntry(ctx, entry); err != nil {
			logger.Error("finalizing audit entry",
				zap.String("stage", stage), zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}()

	output, err := fn(ctx)
	entry.Output = output
	return err
}
