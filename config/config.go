package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

var gitSHA string
var buildDate string

func GetDataDir() string {
	value, exists := os.LookupEnv("YT_TRANSCRIBE_DATA_DIR")
	if exists {
		return value
	}
	return "data"
}

// directory for per-job temporary audio assets.
// defaults to GetDataDir() / tmp
func GetTempDir() string {
	value, exists := os.LookupEnv("YT_TRANSCRIBE_TEMP_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "tmp")
}

// directory where completed transcripts are exported.
// defaults to GetDataDir() / transcripts
func GetTranscriptDir() string {
	value, exists := os.LookupEnv("YT_TRANSCRIBE_TRANSCRIPT_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "transcripts")
}

// the Deepgram credential is required before any job work begins
func GetDeepgramAPIKey() (string, error) {
	key := "DEEPGRAM_API_KEY"
	value, exists := os.LookupEnv(key)
	if exists && value != "" {
		return value, nil
	}
	return "", fmt.Errorf("please set %s", key)
}

func GetMaxConcurrentJobs() int {
	if value, exists := os.LookupEnv("YT_TRANSCRIBE_MAX_CONCURRENT_JOBS"); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return 3
}

func GetMaxRetries() int {
	if value, exists := os.LookupEnv("YT_TRANSCRIBE_MAX_RETRIES"); exists {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return 3
}

// logrus level name, e.g. "info" or "debug"
func GetLogLevel() string {
	if value, exists := os.LookupEnv("YT_TRANSCRIBE_LOG_LEVEL"); exists {
		return value
	}
	return "debug"
}

func GetPort() int {
	if value, exists := os.LookupEnv("YT_TRANSCRIBE_PORT"); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return 8080
}

func GetGitSHA() string {
	if gitSHA == "" {
		return "<not provided>"
	} else {
		return gitSHA
	}
}

func GetBuildDate() string {
	if buildDate == "" {
		return "<not provided>"
	} else {
		return buildDate
	}
}
