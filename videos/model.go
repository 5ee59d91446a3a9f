package videos

import (
	"gorm.io/gorm"

	"yt-transcribe/database"
)

// Video rows are owned by the catalog subsystem that discovers channel
// uploads. The transcription pipeline only ever reads them.
type Video struct {
	gorm.Model
	YoutubeID       string `gorm:"uniqueIndex"`
	ChannelID       uint
	Title           string
	URL             string
	ThumbnailURL    string
	DurationSeconds uint // duration hint for progress estimation, 0 if unknown
	ViewCount       uint
}

func Get(id uint) (Video, error) {
	db := database.Get()
	var video Video
	err := db.First(&video, "id = ?", id).Error
	return video, err
}
