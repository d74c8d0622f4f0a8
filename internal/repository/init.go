package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailriver/mailriver/interfaces"
	"github.com/mailriver/mailriver/internal/database"
	"github.com/mailriver/mailriver/internal/models"
)

type Repositories struct {
	AccountRepository      interfaces.AccountRepository
	SyncStateRepository    interfaces.SyncStateRepository
	MessageIndexRepository interfaces.MessageIndexRepository
	ContentCacheRepository interfaces.ContentCacheRepository
	SyncLeaseRepository    interfaces.SyncLeaseRepository
	SyncControlRepository  interfaces.SyncControlRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:      NewAccountRepository(db),
		SyncStateRepository:    NewSyncStateRepository(db),
		MessageIndexRepository: NewMessageIndexRepository(db),
		ContentCacheRepository: NewContentCacheRepository(db),
		SyncLeaseRepository:    NewSyncLeaseRepository(db),
		SyncControlRepository:  NewSyncControlRepository(db),
	}
}

func MigrateDB(dbConfig *database.DatabaseConfig, gormDB *gorm.DB) error {
	db, err := gormDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = gormDB.AutoMigrate(
		&models.Account{},
		&models.SyncState{},
		&models.MessageIndexEntry{},
		&models.ContentCacheEntry{},
		&models.SyncLease{},
		&models.SyncControl{},
	)

	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
