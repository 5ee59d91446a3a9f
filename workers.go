package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"yt-transcribe/acquire"
	"yt-transcribe/deepgram"
	"yt-transcribe/format"
	"yt-transcribe/jobs"
	"yt-transcribe/videos"
)

// Acquirer produces a local audio asset for a video source reference.
type Acquirer interface {
	Acquire(ctx context.Context, url string) (*acquire.Asset, error)
}

// Transcriber submits an audio asset to the speech-to-text service.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts deepgram.Options) (*deepgram.Result, error)
}

// Orchestrator owns the job state machine. A fixed pool of workers claims
// pending jobs from the database in FIFO order and drives each one through
// acquisition, transcription, and rendering. Exactly one worker owns a job
// at a time; the claim is a conditional update, so multiple processes could
// share one database.
type Orchestrator struct {
	acquirer    Acquirer
	transcriber Transcriber
	options     deepgram.Options

	workers       int
	pollInterval  time.Duration
	progressTick  time.Duration
	acquireLimit  time.Duration
	listenLimit   time.Duration
	backoffBase   time.Duration
	transcriptDir string

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewOrchestrator(acquirer Acquirer, transcriber Transcriber, workers int, transcriptDir string) *Orchestrator {
	return &Orchestrator{
		acquirer:      acquirer,
		transcriber:   transcriber,
		options:       deepgram.DefaultOptions(),
		workers:       workers,
		pollInterval:  2 * time.Second,
		progressTick:  2 * time.Second,
		acquireLimit:  15 * time.Minute,
		listenLimit:   30 * time.Minute,
		backoffBase:   2 * time.Second,
		transcriptDir: transcriptDir,
		stop:          make(chan struct{}),
	}
}

// Start resets jobs stranded by a previous run and launches the workers.
func (o *Orchestrator) Start() error {
	if _, err := jobs.ResetStalled(); err != nil {
		return err
	}
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	log.Infof("started %d transcription workers", o.workers)
	return nil
}

// Stop waits for the workers to finish their current jobs.
func (o *Orchestrator) Stop() {
	close(o.stop)
	o.wg.Wait()
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	for {
		select {
		case <-o.stop:
			return
		default:
		}

		job, ok, err := jobs.ClaimNextPending()
		if err != nil {
			log.Errorf("worker %d: claim: %v", id, err)
		}
		if !ok || err != nil {
			select {
			case <-o.stop:
				return
			case <-time.After(o.pollInterval):
			}
			continue
		}

		o.runJob(id, job)
	}
}

func (o *Orchestrator) runJob(workerID int, job jobs.TranscriptionJob) {
	log.Infof("worker %d: job %d video %d format %s (attempt %d/%d)",
		workerID, job.ID, job.VideoID, job.Format, job.RetryCount+1, job.MaxRetries+1)

	video, err := videos.Get(job.VideoID)
	if err != nil {
		o.fail(job.ID, "video not found in catalog")
		return
	}

	if jobs.CancelRequested(job.ID) {
		o.cancelJob(job.ID)
		return
	}

	// downloading: acquire a local audio asset
	ctx, cancel := context.WithTimeout(context.Background(), o.acquireLimit)
	stopEstimate := o.estimateProgress(ctx, cancel, job.ID, float64(video.DurationSeconds), 5, 45)
	asset, err := o.acquirer.Acquire(ctx, video.URL)
	stopEstimate()
	cancel()
	if err != nil {
		o.settleStageError(job, err)
		return
	}
	defer asset.Cleanup()

	if jobs.CancelRequested(job.ID) {
		o.cancelJob(job.ID)
		return
	}

	// processing: long-running external transcription call
	if err := jobs.MarkProcessing(job.ID); err != nil {
		log.Errorf("worker %d: job %d to processing: %v", workerID, job.ID, err)
		return
	}
	if err := jobs.SetProgress(job.ID, 50); err != nil {
		log.Errorln(err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), o.listenLimit)
	stopEstimate = o.estimateProgress(ctx, cancel, job.ID, asset.Duration, 50, 95)
	result, err := o.transcriber.Transcribe(ctx, asset.Path, o.options)
	stopEstimate()
	cancel()
	if err != nil {
		o.settleStageError(job, err)
		return
	}

	// a result that arrived after a cancellation request is discarded
	if jobs.CancelRequested(job.ID) {
		o.cancelJob(job.ID)
		return
	}

	content, err := format.Render(result, job.Format, format.Meta{
		Title:       video.Title,
		GeneratedAt: job.CreatedAt,
	})
	if err != nil {
		o.fail(job.ID, fmt.Sprintf("could not render transcript: %v", err))
		return
	}

	words := make([]jobs.WordTimestamp, 0, len(result.Words))
	for _, w := range result.Words {
		words = append(words, jobs.WordTimestamp{
			Word:           w.Word,
			PunctuatedWord: w.PunctuatedWord,
			Start:          w.Start,
			End:            w.End,
			Confidence:     w.Confidence,
			Speaker:        w.Speaker,
		})
	}

	if err := jobs.Complete(job.ID, content, words, result.Raw); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			// cancelled underneath us; the result is discarded
			o.cancelJob(job.ID)
			return
		}
		log.Errorf("worker %d: complete job %d: %v", workerID, job.ID, err)
		return
	}

	o.exportTranscript(job, content)
	log.Infof("worker %d: job %d completed", workerID, job.ID)
}

// settleStageError is the one place that decides retry vs. terminal
// failure for a classified stage error.
func (o *Orchestrator) settleStageError(job jobs.TranscriptionJob, err error) {
	kind := jobs.KindOf(err)
	log.Errorf("job %d stage error (%s): %v", job.ID, kind, err)

	if kind == jobs.KindCancelled || jobs.CancelRequested(job.ID) {
		o.cancelJob(job.ID)
		return
	}

	if kind.Retryable() && job.RetryCount < job.MaxRetries {
		delay := o.backoffBase << uint(job.RetryCount)
		log.Infof("job %d: retry %d/%d in %s", job.ID, job.RetryCount+1, job.MaxRetries, delay)
		if err := jobs.RequeueForRetry(job.ID, delay); err != nil {
			log.Errorln(err)
		}
		return
	}

	o.fail(job.ID, kind.Describe())
}

func (o *Orchestrator) fail(id uint, message string) {
	if err := jobs.Fail(id, message); err != nil {
		log.Errorf("fail job %d: %v", id, err)
	}
}

func (o *Orchestrator) cancelJob(id uint) {
	if err := jobs.MarkCancelled(id); err != nil {
		log.Errorf("cancel job %d: %v", id, err)
		return
	}
	log.Infof("job %d cancelled", id)
}

// estimateProgress advances a job's progress while an external call runs.
// Neither acquisition nor transcription reports incremental progress, so
// the estimate is elapsed wall-clock against the expected duration, capped
// at hi so the job never looks complete before the result lands. The same
// loop watches for cancellation requests and aborts the in-flight call.
func (o *Orchestrator) estimateProgress(ctx context.Context, abort context.CancelFunc, jobID uint, expectedSeconds float64, lo, hi int) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		start := time.Now()
		ticker := time.NewTicker(o.progressTick)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if jobs.CancelRequested(jobID) {
				abort()
				return
			}

			elapsed := time.Since(start).Seconds()
			var frac float64
			if expectedSeconds > 0 {
				frac = elapsed / expectedSeconds
			} else {
				// no duration hint: approach the cap asymptotically
				frac = elapsed / (elapsed + 60)
			}
			if frac > 1 {
				frac = 1
			}
			pct := lo + int(frac*float64(hi-lo))
			if err := jobs.SetProgress(jobID, pct); err != nil {
				log.Errorln(err)
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// exportTranscript mirrors the completed transcript to the transcript
// output directory. Export failures are logged, not fatal: the canonical
// copy lives on the job row.
func (o *Orchestrator) exportTranscript(job jobs.TranscriptionJob, content string) {
	if o.transcriptDir == "" {
		return
	}
	if err := os.MkdirAll(o.transcriptDir, 0700); err != nil {
		log.Errorln(err)
		return
	}
	path := filepath.Join(o.transcriptDir, fmt.Sprintf("%d.%s", job.ID, job.Format))
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		log.Errorln(err)
	}
}
