package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"yt-transcribe/database"
)

// ErrDuplicateActiveJob is returned when a submission targets a video that
// already has a non-terminal job.
var ErrDuplicateActiveJob = errors.New("an active transcription job already exists for this video")

// ErrInvalidTransition is returned when a requested status change is not an
// edge of the job state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

var activeStatuses = []Status{StatusPending, StatusDownloading, StatusProcessing}

// Create inserts a new pending job. At most one non-terminal job may exist
// per video, checked and inserted in one transaction.
func Create(videoID uint, format Format, maxRetries int) (TranscriptionJob, error) {
	db := database.Get()

	job := TranscriptionJob{
		VideoID:    videoID,
		Status:     StatusPending,
		Format:     format,
		MaxRetries: maxRetries,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&TranscriptionJob{}).
			Where("video_id = ? AND status IN ?", videoID, activeStatuses).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateActiveJob
		}
		return tx.Create(&job).Error
	})
	if err != nil {
		return TranscriptionJob{}, err
	}

	log.Debugln("created job", job.ID, "for video", videoID, "format", format)
	return job, nil
}

func Get(id uint) (TranscriptionJob, error) {
	db := database.Get()
	var job TranscriptionJob
	err := db.First(&job, "id = ?", id).Error
	return job, err
}

// List returns jobs newest-first, optionally filtered by status.
func List(status Status) ([]TranscriptionJob, error) {
	db := database.Get()
	var out []TranscriptionJob
	q := db.Order("created_at DESC, id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&out).Error
	return out, err
}

// ClaimNextPending atomically takes ownership of the oldest claimable
// pending job, moving it to downloading. The conditional update means the
// claim is safe even with multiple worker processes on one database.
func ClaimNextPending() (TranscriptionJob, bool, error) {
	db := database.Get()
	now := time.Now().UTC()

	for {
		var job TranscriptionJob
		err := db.Where("status = ? AND (run_after IS NULL OR run_after <= ?)", StatusPending, now).
			Order("created_at ASC, id ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TranscriptionJob{}, false, nil
		}
		if err != nil {
			return TranscriptionJob{}, false, err
		}

		res := db.Model(&TranscriptionJob{}).
			Where("id = ? AND status = ?", job.ID, StatusPending).
			Updates(map[string]interface{}{
				"status":     StatusDownloading,
				"started_at": now,
			})
		if res.Error != nil {
			return TranscriptionJob{}, false, res.Error
		}
		if res.RowsAffected == 0 {
			// someone else claimed it, or it was cancelled; try the next one
			continue
		}

		job, err = Get(job.ID)
		if err != nil {
			return TranscriptionJob{}, false, err
		}
		log.Debugln("claimed job", job.ID)
		return job, true, nil
	}
}

// SetProgress raises the progress of an active job. Decreases and writes to
// non-active jobs are silently dropped, which keeps progress monotone even
// when an estimation tick races a status change.
func SetProgress(id uint, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	db := database.Get()
	return db.Model(&TranscriptionJob{}).
		Where("id = ? AND status IN ? AND progress_percentage < ?",
			id, []Status{StatusDownloading, StatusProcessing}, pct).
		Update("progress_percentage", pct).Error
}

// MarkProcessing advances a job from downloading to processing.
func MarkProcessing(id uint) error {
	return transition(id, StatusDownloading, map[string]interface{}{
		"status": StatusProcessing,
	})
}

// Complete stores the rendered transcript, word timestamps, and the raw
// normalized result together with the completed transition. Nothing is
// visible to readers until the single update lands.
func Complete(id uint, content string, words []WordTimestamp, raw json.RawMessage) error {
	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return fmt.Errorf("marshal word timestamps: %w", err)
	}
	return transition(id, StatusProcessing, map[string]interface{}{
		"status":              StatusCompleted,
		"transcript_content":  content,
		"word_timestamps":     string(wordsJSON),
		"raw_result":          string(raw),
		"progress_percentage": 100,
		"completed_at":        time.Now().UTC(),
	})
}

// Fail marks an active job failed with a human-readable message.
func Fail(id uint, message string) error {
	db := database.Get()
	res := db.Model(&TranscriptionJob{}).
		Where("id = ? AND status IN ?", id, []Status{StatusDownloading, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"error_message": message,
			"completed_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// RequeueForRetry puts an active job back in the ready queue after a
// transient failure, honoring an exponential backoff delay.
func RequeueForRetry(id uint, delay time.Duration) error {
	db := database.Get()
	runAfter := time.Now().UTC().Add(delay)
	res := db.Model(&TranscriptionJob{}).
		Where("id = ? AND status IN ?", id, []Status{StatusDownloading, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":              StatusPending,
			"retry_count":         gorm.Expr("retry_count + 1"),
			"progress_percentage": 0,
			"run_after":           runAfter,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// RequestCancel cancels a job. Pending jobs cancel immediately; active jobs
// get a cooperative flag that the owning worker observes between stages.
func RequestCancel(id uint) error {
	db := database.Get()

	return db.Transaction(func(tx *gorm.DB) error {
		var job TranscriptionJob
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			return err
		}
		if IsTerminal(job.Status) {
			return ErrInvalidTransition
		}
		if job.Status == StatusPending {
			res := tx.Model(&TranscriptionJob{}).
				Where("id = ? AND status = ?", id, StatusPending).
				Updates(map[string]interface{}{
					"status":       StatusCancelled,
					"completed_at": time.Now().UTC(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// a worker claimed it in between; fall back to the flag
				return tx.Model(&TranscriptionJob{}).
					Where("id = ?", id).
					Update("cancel_requested", true).Error
			}
			return nil
		}
		return tx.Model(&TranscriptionJob{}).
			Where("id = ?", id).
			Update("cancel_requested", true).Error
	})
}

// CancelRequested reports whether cancellation was requested for a job.
func CancelRequested(id uint) bool {
	db := database.Get()
	var job TranscriptionJob
	if err := db.Select("cancel_requested").First(&job, "id = ?", id).Error; err != nil {
		return false
	}
	return job.CancelRequested
}

// MarkCancelled finalizes cancellation of a job the worker owns.
func MarkCancelled(id uint) error {
	db := database.Get()
	res := db.Model(&TranscriptionJob{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]interface{}{
			"status":       StatusCancelled,
			"completed_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Retry re-submits a failed job: progress and error reset, retry count
// incremented, retry budget untouched.
func Retry(id uint) (TranscriptionJob, error) {
	db := database.Get()
	res := db.Model(&TranscriptionJob{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(map[string]interface{}{
			"status":              StatusPending,
			"error_message":       "",
			"progress_percentage": 0,
			"retry_count":         gorm.Expr("retry_count + 1"),
			"cancel_requested":    false,
			"run_after":           nil,
			"completed_at":        nil,
		})
	if res.Error != nil {
		return TranscriptionJob{}, res.Error
	}
	if res.RowsAffected == 0 {
		var job TranscriptionJob
		if err := db.First(&job, "id = ?", id).Error; err != nil {
			return TranscriptionJob{}, err
		}
		return TranscriptionJob{}, ErrInvalidTransition
	}
	return Get(id)
}

// ResetStalled returns jobs left downloading or processing by a dead worker
// to the ready queue. Called once at startup, before workers start.
func ResetStalled() (int64, error) {
	db := database.Get()
	res := db.Model(&TranscriptionJob{}).
		Where("status IN ?", []Status{StatusDownloading, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":              StatusPending,
			"progress_percentage": 0,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Infof("reset %d stalled jobs to pending", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func transition(id uint, from Status, updates map[string]interface{}) error {
	db := database.Get()
	res := db.Model(&TranscriptionJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}
