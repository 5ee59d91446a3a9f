package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"yt-transcribe/acquire"
	"yt-transcribe/database"
	"yt-transcribe/deepgram"
	"yt-transcribe/jobs"
	"yt-transcribe/videos"
)

func setupPipeline(t *testing.T) videos.Video {
	t.Helper()

	log = logrus.New()
	log.SetOutput(io.Discard)
	jobs.Init(log)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("retrieve db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(&videos.Video{}, &jobs.TranscriptionJob{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.Init(gdb, log)

	video := videos.Video{
		YoutubeID:       "abc123",
		Title:           "Test Video",
		URL:             "https://www.youtube.com/watch?v=abc123",
		DurationSeconds: 10,
	}
	if err := gdb.Create(&video).Error; err != nil {
		t.Fatalf("create video: %v", err)
	}
	return video
}

// fakeAcquirer writes a real asset into a scoped directory, like the real
// service, so cleanup behavior is observable.
type fakeAcquirer struct {
	root     string
	duration float64
	failWith error
	failures int // fail this many calls before succeeding
	calls    int
	onCall   func()
}

func (f *fakeAcquirer) Acquire(ctx context.Context, url string) (*acquire.Asset, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.failWith != nil && (f.failures == 0 || f.calls <= f.failures) {
		return nil, f.failWith
	}

	dir := filepath.Join(f.root, uuid.Must(uuid.NewV7()).String())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(path, []byte("wav"), 0600); err != nil {
		return nil, err
	}
	return &acquire.Asset{Path: path, Duration: f.duration, Dir: dir}, nil
}

type fakeTranscriber struct {
	result   *deepgram.Result
	failWith error
	failures int
	calls    int
	onCall   func()
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, opts deepgram.Options) (*deepgram.Result, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.failWith != nil && (f.failures == 0 || f.calls <= f.failures) {
		return nil, f.failWith
	}
	return f.result, nil
}

const providerPayload = `{"metadata":{"duration":1.4},"results":{}}`

func threeWordResult() *deepgram.Result {
	return &deepgram.Result{
		Transcript: "hello brave world",
		Words: []deepgram.Word{
			{Word: "hello", PunctuatedWord: "Hello", Start: 0.0, End: 0.4, Confidence: 0.99},
			{Word: "brave", PunctuatedWord: "brave", Start: 0.5, End: 0.9, Confidence: 0.97},
			{Word: "world", PunctuatedWord: "world.", Start: 1.0, End: 1.4, Confidence: 0.98},
		},
		Duration: 1.4,
		Raw:      []byte(providerPayload),
	}
}

func testOrchestrator(acq Acquirer, tr Transcriber, workers int) *Orchestrator {
	o := NewOrchestrator(acq, tr, workers, "")
	o.pollInterval = 10 * time.Millisecond
	o.progressTick = 5 * time.Millisecond
	o.backoffBase = time.Millisecond
	return o
}

// cleanup happens just after the job turns terminal, so poll briefly
func waitForEmptyDir(t *testing.T, dir string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		if len(entries) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("working directory %s was never cleaned up", dir)
}

func waitForTerminal(t *testing.T, id uint) jobs.TranscriptionJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if jobs.IsTerminal(job.Status) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := jobs.Get(id)
	t.Fatalf("job %d never reached a terminal state (status %s)", id, job.Status)
	return jobs.TranscriptionJob{}
}

// A successful run produces a completed job whose SRT body spans the full
// word range.
func TestPipelineCompletesSRT(t *testing.T) {
	video := setupPipeline(t)

	fa := &fakeAcquirer{root: t.TempDir(), duration: 10}
	ft := &fakeTranscriber{result: threeWordResult()}
	o := testOrchestrator(fa, ft, 1)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	job, err := jobs.Create(video.ID, jobs.FormatSRT, 3)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	done := waitForTerminal(t, job.ID)
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.ErrorMessage)
	}

	want := "1\n00:00:00,000 --> 00:00:01,400\nHello brave world.\n"
	if done.TranscriptContent != want {
		t.Fatalf("srt = %q, want %q", done.TranscriptContent, want)
	}
	if done.ProgressPercentage != 100 {
		t.Fatalf("progress = %d, want 100", done.ProgressPercentage)
	}
	if done.RawResult != providerPayload {
		t.Fatalf("raw result = %q, want the provider payload verbatim", done.RawResult)
	}
	words, err := done.Words()
	if err != nil || len(words) != 3 {
		t.Fatalf("words = %v, %v", words, err)
	}

	// the per-job working directory is removed after completion
	waitForEmptyDir(t, fa.root)
}

// An access-restricted source fails immediately, with no retries.
func TestPipelineAccessRestrictedIsFatal(t *testing.T) {
	video := setupPipeline(t)

	fa := &fakeAcquirer{
		root:     t.TempDir(),
		failWith: jobs.NewError(jobs.KindAccessRestricted, "Private video", nil),
	}
	ft := &fakeTranscriber{result: threeWordResult()}
	o := testOrchestrator(fa, ft, 1)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	job, err := jobs.Create(video.ID, jobs.FormatTXT, 3)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	done := waitForTerminal(t, job.ID)
	if done.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if done.ErrorMessage != jobs.KindAccessRestricted.Describe() {
		t.Fatalf("error message = %q", done.ErrorMessage)
	}
	if done.RetryCount != 0 {
		t.Fatalf("retry count = %d, want 0", done.RetryCount)
	}
	if fa.calls != 1 {
		t.Fatalf("acquire called %d times, want 1", fa.calls)
	}
	if ft.calls != 0 {
		t.Fatal("transcriber should never run")
	}
}

// Two transient transcription failures inside the retry budget still end in
// a completed job with retry_count recording the attempts.
func TestPipelineRetriesTransientFailures(t *testing.T) {
	video := setupPipeline(t)

	fa := &fakeAcquirer{root: t.TempDir(), duration: 10}
	ft := &fakeTranscriber{
		result:   threeWordResult(),
		failWith: jobs.NewError(jobs.KindNetworkFailure, "connection reset", nil),
		failures: 2,
	}
	o := testOrchestrator(fa, ft, 1)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	job, err := jobs.Create(video.ID, jobs.FormatTXT, 3)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	done := waitForTerminal(t, job.ID)
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.ErrorMessage)
	}
	if done.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", done.RetryCount)
	}
	if ft.calls != 3 {
		t.Fatalf("transcriber called %d times, want 3", ft.calls)
	}
}

// Retryable failures beyond the budget become a terminal failure.
func TestPipelineExhaustsRetryBudget(t *testing.T) {
	video := setupPipeline(t)

	fa := &fakeAcquirer{root: t.TempDir(), duration: 10}
	ft := &fakeTranscriber{
		failWith: jobs.NewError(jobs.KindNetworkFailure, "connection reset", nil),
	}
	o := testOrchestrator(fa, ft, 1)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	job, err := jobs.Create(video.ID, jobs.FormatTXT, 2)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	done := waitForTerminal(t, job.ID)
	if done.Status != jobs.StatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if done.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2 (never exceeds the budget)", done.RetryCount)
	}
	if done.ErrorMessage != jobs.KindNetworkFailure.Describe() {
		t.Fatalf("error message = %q", done.ErrorMessage)
	}
}

// Cancelling mid-processing discards the provider result, marks the job
// cancelled, and removes the temporary audio.
func TestPipelineCancelMidProcessing(t *testing.T) {
	video := setupPipeline(t)

	inCall := make(chan struct{})
	release := make(chan struct{})

	fa := &fakeAcquirer{root: t.TempDir(), duration: 10}
	ft := &fakeTranscriber{result: threeWordResult()}
	ft.onCall = func() {
		close(inCall)
		<-release
	}

	o := testOrchestrator(fa, ft, 1)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	job, err := jobs.Create(video.ID, jobs.FormatTXT, 3)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	<-inCall
	if err := jobs.RequestCancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	done := waitForTerminal(t, job.ID)
	if done.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", done.Status)
	}
	if done.TranscriptContent != "" {
		t.Fatal("cancelled job must not carry a transcript")
	}

	waitForEmptyDir(t, fa.root)
}

// A second submission for a video with an active job is rejected.
func TestPipelineRejectsDuplicateActiveJob(t *testing.T) {
	video := setupPipeline(t)

	inCall := make(chan struct{})
	release := make(chan struct{})

	fa := &fakeAcquirer{root: t.TempDir(), duration: 10}
	fa.onCall = func() {
		close(inCall)
		<-release
	}
	ft := &fakeTranscriber{result: threeWordResult()}

	o := testOrchestrator(fa, ft, 1)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	job, err := jobs.Create(video.ID, jobs.FormatTXT, 3)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	<-inCall // first job is now downloading
	if _, err := jobs.Create(video.ID, jobs.FormatSRT, 3); !errors.Is(err, jobs.ErrDuplicateActiveJob) {
		t.Fatalf("second create = %v, want ErrDuplicateActiveJob", err)
	}
	close(release)

	done := waitForTerminal(t, job.ID)
	if done.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
}

// Progress never moves backwards and freezes at its final value.
func TestPipelineProgressIsMonotone(t *testing.T) {
	video := setupPipeline(t)

	slowDone := make(chan struct{})
	fa := &fakeAcquirer{root: t.TempDir(), duration: 0.1}
	ft := &fakeTranscriber{result: threeWordResult()}
	ft.onCall = func() {
		// linger long enough for a few progress ticks
		time.Sleep(30 * time.Millisecond)
		close(slowDone)
	}

	o := testOrchestrator(fa, ft, 1)
	if err := o.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop()

	job, err := jobs.Create(video.ID, jobs.FormatTXT, 3)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	last := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := jobs.Get(job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ProgressPercentage < last {
			t.Fatalf("progress went backwards: %d -> %d", last, got.ProgressPercentage)
		}
		last = got.ProgressPercentage
		if jobs.IsTerminal(got.Status) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	<-slowDone
	done := waitForTerminal(t, job.ID)
	if done.ProgressPercentage != 100 {
		t.Fatalf("final progress = %d, want 100", done.ProgressPercentage)
	}
}
