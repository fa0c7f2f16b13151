package store

import (
	"crypto/rand"
	"math/big"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/jamlink-audio/jamlink/internal/config"
	"github.com/jamlink-audio/jamlink/pkg/logger"
)

// InitDB opens the configured database, migrates the schema and bootstraps
// the admin account on first run.
func InitDB() *gorm.DB {
	var db *gorm.DB
	var err error

	driver := config.AppConfig.Database.Driver
	dsn := config.AppConfig.Database.DSN

	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		if dsn == "" {
			dsn = "jamlink.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", driver, err)
	}

	if err := db.AutoMigrate(&User{}, &SessionRecord{}, &PeerEvent{}, &QualitySnapshot{}); err != nil {
		logger.Log.Fatalf("Failed to migrate database: %v", err)
	}

	var count int64
	db.Model(&User{}).Count(&count)
	if count == 0 {
		randPw, err := randomPassword(12)
		if err != nil {
			logger.Log.Fatalf("Failed to generate random password: %v", err)
		}
		bytes, err := bcrypt.GenerateFromPassword([]byte(randPw), 14)
		if err != nil {
			logger.Log.Fatalf("Failed to hash password: %v", err)
		}
		admin := User{
			Username:     "admin",
			PasswordHash: string(bytes),
			Role:         "admin",
		}
		db.Create(&admin)
		logger.Log.Warnf("INITIAL ADMIN CREATED. Username: admin, Password: %s", randPw)
	}

	return db
}

func randomPassword(n int) (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		ret[i] = chars[num.Int64()]
	}
	return string(ret), nil
}
