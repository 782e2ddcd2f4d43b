package signing

import (
	"context"
	"errors"
	"time"

	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Enqueue schedules a signature request for the worker inside the caller's transaction.
// A request has at most one task row; enqueueing again resets a finished or dead task.
func Enqueue(ctx context.Context, tx *gorm.DB, requestID uint, at time.Time) error {
	task := domain.SignatureTask{
		SignatureRequestID: requestID,
		Status:             domain.TaskPending,
		NextRunAt:          at,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "signature_request_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":      domain.TaskPending,
			"attempts":    0,
			"next_run_at": at,
			"locked_by":   "",
			"locked_at":   nil,
			"last_error":  "",
		}),
	}).Create(&task).Error
}

// Requeue revives the task of a signature request, typically after it went dead.
func Requeue(ctx context.Context, db *gorm.DB, requestID uint) error {
	var req domain.SignatureRequest
	if err := db.WithContext(ctx).Select("id", "status", "step").First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("Signature request not found", ErrRequestNotFound)
		}
		return err
	}
	if req.Status == domain.SignatureCancelled || req.Step.Reached(domain.StepDownloaded) {
		return apperrors.Validation("Signature request already finished", nil)
	}
	return Enqueue(ctx, db, requestID, time.Now().UTC())
}

// Backlog counts tasks by status.
func Backlog(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := db.WithContext(ctx).Model(&domain.SignatureTask{}).
		Select("status, count(*) as count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{
		domain.TaskPending: 0,
		domain.TaskRunning: 0,
		domain.TaskDone:    0,
		domain.TaskDead:    0,
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
