package store

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var logger = logrus.WithField("component", "vfd.store")

// Open opens the local sqlite store and migrates the schema.
func Open(path string, slowThreshold time.Duration) (*gorm.DB, error) {
	dsn := "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := open(dsn, gormlogger.New(logger, gormlogger.Config{
		SlowThreshold:             slowThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	}))
	if err != nil {
		return nil, err
	}
	logger.WithField("path", path).Info("fiscal store opened")
	return db, nil
}

// OpenInMemory a private in-memory store, named so that every connection of
// the pool sees the same database.
func OpenInMemory(name string) (*gorm.DB, error) {
	return open("file:"+name+"?mode=memory&cache=shared", gormlogger.Default.LogMode(gormlogger.Silent))
}

func open(dsn string, l gormlogger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: l})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get underlying sql.DB")
	}
	// sqlite has a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Counters{}, &ReceiptJob{}, &FiscalReceipt{}, &ReportJob{}, &Registration{}); err != nil {
		return errors.Wrap(err, "migrate schema")
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get underlying sql.DB")
	}
	return sqlDB.Close()
}

// LoadRegistration returns nil without error when the device is not registered yet.
func LoadRegistration(ctx context.Context, db *gorm.DB) (*Registration, error) {
	var reg Registration
	err := db.WithContext(ctx).Limit(1).Find(&reg, countersID).Error
	if err != nil {
		return nil, errors.Wrap(err, "load registration")
	}
	if reg.ID == 0 {
		return nil, nil
	}
	return &reg, nil
}

func SaveRegistration(ctx context.Context, db *gorm.DB, reg *Registration) error {
	reg.ID = countersID
	if err := db.WithContext(ctx).Save(reg).Error; err != nil {
		return errors.Wrap(err, "save registration")
	}
	return nil
}
