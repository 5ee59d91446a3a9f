package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"yt-transcribe/jobs"
)

const defaultBaseURL = "https://api.deepgram.com"

// ErrMissingAPIKey indicates the client was configured without a credential.
var ErrMissingAPIKey = errors.New("deepgram: api key is required")

// Client calls the Deepgram prerecorded transcription API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

func NewClient(apiKey string, logger *logrus.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		// no client timeout: transcription time scales with audio length,
		// the caller bounds the call through ctx
		httpClient: &http.Client{},
		log: logger.WithFields(logrus.Fields{
			"component": "deepgram",
		}).Logger,
	}, nil
}

// SetBaseURL points the client at a different endpoint. Used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Transcribe uploads the audio file at audioPath and returns the normalized
// result. Failures carry a classified kind so the orchestrator can decide
// retry eligibility.
func (c *Client) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, jobs.NewError(jobs.KindStorageFailure, "could not open audio asset", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, jobs.NewError(jobs.KindStorageFailure, "could not stat audio asset", err)
	}

	endpoint := c.baseURL + "/v1/listen?" + queryParams(opts).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return nil, jobs.NewError(jobs.KindNetworkFailure, "could not build request", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "audio/wav")
	req.ContentLength = fi.Size()

	c.log.Infof("transcribing %s (%d bytes)", audioPath, fi.Size())
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, jobs.NewError(jobs.KindCancelled, "transcription cancelled", err)
		}
		return nil, jobs.NewError(jobs.KindNetworkFailure, "transcription request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, jobs.NewError(jobs.KindNetworkFailure, "could not read transcription response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode)
	}

	result, err := normalize(body)
	if err != nil {
		return nil, jobs.NewError(jobs.KindNetworkFailure, "malformed transcription response", err)
	}

	c.log.Infof("transcribed %s in %s (%d words)", audioPath,
		time.Since(start).Round(time.Millisecond), len(result.Words))
	return result, nil
}

func queryParams(opts Options) url.Values {
	params := url.Values{}
	params.Set("model", opts.Model)
	if opts.DetectLanguage {
		params.Set("detect_language", "true")
	} else if opts.Language != "" {
		params.Set("language", opts.Language)
	}
	params.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	params.Set("paragraphs", strconv.FormatBool(opts.Paragraphs))
	params.Set("utterances", strconv.FormatBool(opts.Utterances))
	params.Set("smart_format", strconv.FormatBool(opts.SmartFormat))
	params.Set("diarize", strconv.FormatBool(opts.Diarize))
	return params
}

func classifyStatus(code int) *jobs.Error {
	msg := fmt.Sprintf("transcription service returned HTTP %d", code)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return jobs.NewError(jobs.KindServiceAuth, msg, nil)
	case code == http.StatusTooManyRequests:
		return jobs.NewError(jobs.KindServiceQuotaExceeded, msg, nil)
	case code == http.StatusRequestEntityTooLarge:
		return jobs.NewError(jobs.KindServiceRejectedPayload, msg, nil)
	case code == http.StatusBadRequest || code == http.StatusUnsupportedMediaType:
		return jobs.NewError(jobs.KindServiceRejectedPayload, msg, nil)
	default:
		return jobs.NewError(jobs.KindNetworkFailure, msg, nil)
	}
}
