package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"yt-transcribe/config"
	"yt-transcribe/jobs"
	"yt-transcribe/videos"
)

// jobResponse is the wire shape of a job. The raw provider result and word
// timestamps stay server-side; words have their own endpoint.
type jobResponse struct {
	ID                 uint       `json:"id"`
	VideoID            uint       `json:"video_id"`
	Status             string     `json:"status"`
	Format             string     `json:"format"`
	ProgressPercentage int        `json:"progress_percentage"`
	TranscriptContent  string     `json:"transcript_content,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	RetryCount         int        `json:"retry_count"`
	MaxRetries         int        `json:"max_retries"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toJobResponse(j jobs.TranscriptionJob) jobResponse {
	return jobResponse{
		ID:                 j.ID,
		VideoID:            j.VideoID,
		Status:             string(j.Status),
		Format:             string(j.Format),
		ProgressPercentage: j.ProgressPercentage,
		TranscriptContent:  j.TranscriptContent,
		ErrorMessage:       j.ErrorMessage,
		RetryCount:         j.RetryCount,
		MaxRetries:         j.MaxRetries,
		CreatedAt:          j.CreatedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

type createJobRequest struct {
	VideoID uint   `json:"video_id"`
	Format  string `json:"format"`
}

func CreateJob(c echo.Context) error {
	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	format := req.Format
	if format == "" {
		format = string(jobs.FormatTXT)
	}
	f, err := jobs.ParseFormat(format)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	if _, err := videos.Get(req.VideoID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("no such video"))
		}
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("could not look up video"))
	}

	job, err := jobs.Create(req.VideoID, f, config.GetMaxRetries())
	if err != nil {
		if errors.Is(err, jobs.ErrDuplicateActiveJob) {
			return c.JSON(http.StatusConflict, errorBody(err.Error()))
		}
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("could not create job"))
	}

	return c.JSON(http.StatusCreated, toJobResponse(job))
}

func ListJobs(c echo.Context) error {
	status := jobs.Status(c.QueryParam("status"))
	list, err := jobs.List(status)
	if err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("could not list jobs"))
	}

	out := make([]jobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toJobResponse(j))
	}
	return c.JSON(http.StatusOK, out)
}

func GetJob(c echo.Context) error {
	job, err := jobByID(c)
	if err != nil {
		return jobLookupError(c, err)
	}
	return c.JSON(http.StatusOK, toJobResponse(job))
}

func CancelJob(c echo.Context) error {
	job, err := jobByID(c)
	if err != nil {
		return jobLookupError(c, err)
	}

	if err := jobs.RequestCancel(job.ID); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			return c.JSON(http.StatusConflict, errorBody("job is already finished"))
		}
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("could not cancel job"))
	}

	job, err = jobs.Get(job.ID)
	if err != nil {
		return jobLookupError(c, err)
	}
	return c.JSON(http.StatusOK, toJobResponse(job))
}

func RetryJob(c echo.Context) error {
	job, err := jobByID(c)
	if err != nil {
		return jobLookupError(c, err)
	}

	job, err = jobs.Retry(job.ID)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			return c.JSON(http.StatusConflict, errorBody("only failed jobs can be retried"))
		}
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("could not retry job"))
	}
	return c.JSON(http.StatusOK, toJobResponse(job))
}

func GetWordTimestamps(c echo.Context) error {
	job, err := jobByID(c)
	if err != nil {
		return jobLookupError(c, err)
	}
	if job.Status != jobs.StatusCompleted {
		return c.JSON(http.StatusConflict, errorBody("job has no transcript yet"))
	}

	words, err := job.Words()
	if err != nil {
		log.Errorln(err)
		return c.JSON(http.StatusInternalServerError, errorBody("could not decode word timestamps"))
	}
	if words == nil {
		words = []jobs.WordTimestamp{}
	}
	return c.JSON(http.StatusOK, words)
}

func GetTranscript(c echo.Context) error {
	job, err := jobByID(c)
	if err != nil {
		return jobLookupError(c, err)
	}
	if job.Status != jobs.StatusCompleted {
		return c.JSON(http.StatusConflict, errorBody("job has no transcript yet"))
	}

	contentType := "text/plain; charset=utf-8"
	switch job.Format {
	case jobs.FormatSRT:
		contentType = "application/x-subrip"
	case jobs.FormatVTT:
		contentType = "text/vtt; charset=utf-8"
	}
	return c.Blob(http.StatusOK, contentType, []byte(job.TranscriptContent))
}

func jobByID(c echo.Context) (jobs.TranscriptionJob, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return jobs.TranscriptionJob{}, gorm.ErrRecordNotFound
	}
	return jobs.Get(uint(id))
}

func jobLookupError(c echo.Context, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("no such job"))
	}
	log.Errorln(err)
	return c.JSON(http.StatusInternalServerError, errorBody("could not load job"))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
