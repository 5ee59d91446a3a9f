package ffmpeg

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"yt-transcribe/jobs"
)

// runs ffmpeg with the provided args and returns (stdout, stderr, error)
func Ffmpeg(ctx context.Context, args ...string) ([]byte, []byte, error) {
	ffmpeg := "ffmpeg"
	log.Infoln(ffmpeg, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if err != nil {
		log.Errorf("ffmpeg error: %v", err)
		log.Infoln("stderr:", stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func Version() (string, error) {
	stdout, _, err := Ffmpeg(context.Background(), "-version")
	out := string(stdout)
	if idx := strings.IndexByte(out, '\n'); idx > 0 {
		out = out[:idx]
	}
	return strings.TrimSpace(out), err
}

// ExtractWAV converts src into a transcription-ready WAV at dst:
// 16-bit PCM, mono, 16 kHz sample rate.
func ExtractWAV(ctx context.Context, src, dst string) error {
	_, stderr, err := Ffmpeg(ctx,
		"-i", src,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		"-y",
		dst)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return jobs.NewError(jobs.KindCancelled, "audio extraction cancelled", err)
		}
		lower := strings.ToLower(string(stderr))
		if strings.Contains(lower, "no space left") || strings.Contains(lower, "permission denied") {
			return jobs.NewError(jobs.KindStorageFailure, "could not write extracted audio", err)
		}
		return jobs.NewError(jobs.KindUnsupportedMedia, "could not extract audio from media", err)
	}

	if _, statErr := os.Stat(dst); statErr != nil {
		return jobs.NewError(jobs.KindStorageFailure, "extracted audio missing", statErr)
	}
	return nil
}
