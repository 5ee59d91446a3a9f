package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"golang.org/x/sys/unix"

	"yt-transcribe/config"
	"yt-transcribe/ffmpeg"
	"yt-transcribe/ytdlp"
)

// getFreeSpace returns the free space in bytes for the filesystem containing the given directory
func getFreeSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	err := unix.Statfs(dir, &stat)
	if err != nil {
		return 0, fmt.Errorf("error getting filesystem stats: %v", err)
	}

	freeSpace := stat.Bavail * uint64(stat.Bsize)
	return freeSpace, nil
}

// getDirectorySize calculates the total size of a directory in bytes
func getDirectorySize(dir string) (int64, error) {
	var size int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error walking directory: %v", err)
	}
	return size, nil
}

// StatusGet reports tool versions and disk usage for the temp workspace.
func StatusGet(c echo.Context) error {
	ytdlpVersion, err := ytdlp.Version()
	if err != nil {
		log.Errorln(err)
	}
	ffmpegVersion, err := ffmpeg.Version()
	if err != nil {
		log.Errorln(err)
	}

	free, err := getFreeSpace(config.GetDataDir())
	if err != nil {
		log.Errorln(err)
	}
	used, err := getDirectorySize(config.GetTempDir())
	if err != nil && !os.IsNotExist(err) {
		log.Errorln(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ytdlp":               ytdlpVersion,
		"ffmpeg":              ffmpegVersion,
		"free_bytes":          free,
		"temp_bytes":          used,
		"max_concurrent_jobs": config.GetMaxConcurrentJobs(),
	})
}
