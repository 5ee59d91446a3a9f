package database

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var db *gorm.DB
var log *logrus.Logger

func Init(d *gorm.DB, logger *logrus.Logger) error {
	db = d
	log = logger.WithFields(logrus.Fields{
		"component": "database",
	}).Logger
	return nil
}

// Fini closes the underlying connection. Workers must be stopped first.
func Fini() {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorln(err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Errorln(err)
	}
	db = nil
}

func Get() *gorm.DB {
	if db == nil {
		panic("didn't call database.Init(...)")
	}
	return db
}
