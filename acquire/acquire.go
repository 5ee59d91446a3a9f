package acquire

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"yt-transcribe/ffmpeg"
	"yt-transcribe/jobs"
	"yt-transcribe/ytdlp"
)

// Asset is a local transcription-ready audio file inside a scoped working
// directory. Cleanup removes the whole directory and must run on every exit
// path, including cancellation.
type Asset struct {
	Path     string
	Duration float64 // seconds
	Dir      string  // scoped working directory holding Path
}

func (a *Asset) Cleanup() {
	if a == nil || a.Dir == "" {
		return
	}
	if err := os.RemoveAll(a.Dir); err != nil {
		log.Errorf("cleanup %s: %v", a.Dir, err)
	}
	a.Dir = ""
}

// Service turns a video source reference into a local WAV asset. Each call
// works inside its own directory under TempDir, so concurrent jobs never
// share files.
type Service struct {
	TempDir string

	// stage functions, replaceable in tests
	download func(ctx context.Context, url, dir string) (string, error)
	extract  func(ctx context.Context, src, dst string) error
	probe    func(ctx context.Context, path string) (float64, error)
}

func New(tempDir string) *Service {
	return &Service{
		TempDir:  tempDir,
		download: ytdlp.DownloadAudio,
		extract:  ffmpeg.ExtractWAV,
		probe:    ffmpeg.Duration,
	}
}

// Acquire downloads the source audio and extracts a mono 16 kHz WAV from
// it. On failure the scoped directory is removed before returning.
func (s *Service) Acquire(ctx context.Context, url string) (*Asset, error) {
	dir := filepath.Join(s.TempDir, uuid.Must(uuid.NewV7()).String())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, jobs.NewError(jobs.KindStorageFailure, "could not create working directory", err)
	}

	asset, err := s.acquireInto(ctx, url, dir)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Errorf("cleanup %s: %v", dir, rmErr)
		}
		return nil, err
	}
	return asset, nil
}

func (s *Service) acquireInto(ctx context.Context, url, dir string) (*Asset, error) {
	srcPath, err := s.download(ctx, url, dir)
	if err != nil {
		return nil, err
	}

	wavPath := filepath.Join(dir, "audio.wav")
	if err := s.extract(ctx, srcPath, wavPath); err != nil {
		return nil, err
	}

	// the downloaded container is no longer needed
	if err := os.Remove(srcPath); err != nil {
		log.Errorf("remove %s: %v", srcPath, err)
	}

	duration, err := s.probe(ctx, wavPath)
	if err != nil {
		// probing only feeds progress estimation; a job can proceed without it
		log.Errorf("probe %s: %v", wavPath, err)
		duration = 0
	}

	return &Asset{Path: wavPath, Duration: duration, Dir: dir}, nil
}
