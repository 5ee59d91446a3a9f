package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"yt-transcribe/jobs"
)

// runs yt-dlp with the provided args and returns (stdout, stderr, error)
func Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	ytdlp := "yt-dlp"
	log.Infoln(ytdlp, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, ytdlp, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("yt-dlp error: %v", err)
		log.Infoln("stderr:", stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func Version() (string, error) {
	stdout, _, err := Run(context.Background(), "--version")
	return strings.TrimSpace(string(stdout)), err
}

// DownloadAudio fetches the best audio-only stream for url into dir and
// returns the path of the downloaded file. Failures are classified from
// yt-dlp's stderr so the caller can decide retry eligibility.
func DownloadAudio(ctx context.Context, url, dir string) (string, error) {
	template := filepath.Join(dir, "source.%(ext)s")
	_, stderr, err := Run(ctx,
		"-f", "bestaudio/best",
		"--no-playlist",
		"-o", template,
		url)
	if err != nil {
		if ctx.Err() != nil {
			return "", classifyContext(ctx, err)
		}
		return "", Classify(string(stderr), err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "source.*"))
	if err != nil || len(matches) == 0 {
		return "", jobs.NewError(jobs.KindStorageFailure,
			fmt.Sprintf("downloaded audio not found in %s", dir), err)
	}
	return matches[0], nil
}

// Classify maps yt-dlp stderr output onto the pipeline error taxonomy.
// The match strings are yt-dlp's own messages.
func Classify(stderr string, err error) *jobs.Error {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "private video"),
		strings.Contains(lower, "sign in to confirm your age"),
		strings.Contains(lower, "age-restricted"),
		strings.Contains(lower, "members-only"),
		strings.Contains(lower, "join this channel"):
		return jobs.NewError(jobs.KindAccessRestricted, firstErrorLine(stderr), err)

	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "has been removed"),
		strings.Contains(lower, "account associated with this video has been terminated"),
		strings.Contains(lower, "http error 404"):
		return jobs.NewError(jobs.KindSourceUnavailable, firstErrorLine(stderr), err)

	case strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "no video formats found"),
		strings.Contains(lower, "requested format is not available"):
		return jobs.NewError(jobs.KindUnsupportedMedia, firstErrorLine(stderr), err)

	case strings.Contains(lower, "no space left"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "unable to write"):
		return jobs.NewError(jobs.KindStorageFailure, firstErrorLine(stderr), err)
	}

	// connection resets, DNS failures, HTTP 5xx, throttling: all transient
	return jobs.NewError(jobs.KindNetworkFailure, firstErrorLine(stderr), err)
}

func classifyContext(ctx context.Context, err error) *jobs.Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return jobs.NewError(jobs.KindCancelled, "download cancelled", err)
	}
	return jobs.NewError(jobs.KindNetworkFailure, "download timed out", err)
}

// firstErrorLine picks the first "ERROR:" line so error_message stays a
// single human-readable sentence.
func firstErrorLine(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if line := strings.TrimSpace(stderr); line != "" {
		if idx := strings.IndexByte(line, '\n'); idx > 0 {
			return line[:idx]
		}
		return line
	}
	return "yt-dlp failed"
}
