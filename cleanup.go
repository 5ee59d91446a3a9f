package main

import (
	"os"
	"path/filepath"
	"time"

	"yt-transcribe/config"
)

// per-job working directories older than this are assumed orphaned: no
// stage runs anywhere near this long
const tempDirMaxAge = 24 * time.Hour

// cleanupOrphanedTempDirs removes per-job working directories whose owner
// died without cleaning up. Active jobs are never this old, so age alone is
// a safe criterion.
func cleanupOrphanedTempDirs() {
	log.Debugln("cleanupOrphanedTempDirs...")

	entries, err := os.ReadDir(config.GetTempDir())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorln(err)
		}
		return
	}

	cutoff := time.Now().Add(-tempDirMaxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(config.GetTempDir(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Errorln(err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("removed %d orphaned temp dirs", removed)
	}
}

func vacuumDatabase() {
	if err := db.Exec("VACUUM").Error; err != nil {
		log.Errorln(err)
	}
}

func PeriodicCleanup() {
	cleanupOrphanedTempDirs()
	vacuumDatabase()
	ticker := time.NewTicker(1 * time.Hour)
	for range ticker.C {
		cleanupOrphanedTempDirs()
		vacuumDatabase()
	}
}
