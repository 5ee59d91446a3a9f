package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

type Format string

const (
	FormatTXT Format = "txt"
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTXT, FormatSRT, FormatVTT:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown transcript format %q", s)
}

// WordTimestamp is one word's placement in the audio timeline.
type WordTimestamp struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker,omitempty"`
}

type TranscriptionJob struct {
	gorm.Model
	VideoID uint   `gorm:"index"`
	Status  Status `gorm:"index"`
	Format  Format

	// 0 while pending, frozen at its last value once terminal
	ProgressPercentage int

	// populated together when the job completes
	TranscriptContent string `gorm:"type:text"`
	WordTimestamps    string `gorm:"type:text"` // JSON array of WordTimestamp
	RawResult         string `gorm:"type:text"` // provider response payload, kept for regeneration and audit

	ErrorMessage string
	RetryCount   int
	MaxRetries   int

	// cooperative cancellation, observed by the owning worker between stages
	CancelRequested bool

	// earliest time a pending job may be claimed (set by retry backoff)
	RunAfter *time.Time

	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (j *TranscriptionJob) Words() ([]WordTimestamp, error) {
	if j.WordTimestamps == "" {
		return nil, nil
	}
	var words []WordTimestamp
	if err := json.Unmarshal([]byte(j.WordTimestamps), &words); err != nil {
		return nil, fmt.Errorf("job %d word timestamps: %w", j.ID, err)
	}
	return words, nil
}
