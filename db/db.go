package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pion/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// KeyLastLink holds the LinkRecord of the most recent connect attempt.
const KeyLastLink = "link/last"

var ErrNotFound = errors.New("db: key not found")

// KVStore represents the database schema
type KVStore struct {
	Key   string `gorm:"primaryKey;uniqueIndex"`
	Value any    `gorm:"serializer:json"`
}

// LinkRecord is a snapshot of the link after a connect attempt or a status
// poll.
type LinkRecord struct {
	Time         time.Time `json:"time"`
	State        string    `json:"state"`
	Mode         string    `json:"mode"`
	Registered   bool      `json:"registered"`
	Registration string    `json:"registration,omitempty"`
	AccessTech   string    `json:"access_tech,omitempty"`
	Operator     string    `json:"operator,omitempty"`
	RSRP         int       `json:"rsrp_dbm,omitempty"`
	TAU          string    `json:"tau,omitempty"`
	ActiveTime   string    `json:"active_time,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type Store struct {
	db  *gorm.DB
	log logging.LeveledLogger
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string, lf logging.LoggerFactory) (*Store, error) {
	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	if err := database.AutoMigrate(&KVStore{}); err != nil {
		return nil, fmt.Errorf("db: migrate: %w", err)
	}

	if lf == nil {
		d := logging.NewDefaultLoggerFactory()
		d.DefaultLogLevel = logging.LogLevelDisabled
		d.ScopeLevels = nil
		lf = d
	}
	return &Store{db: database, log: lf.NewLogger("db")}, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value any) error {
	row := KVStore{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("db: set %s: %w", key, err)
	}
	s.log.Debugf("stored %s", key)
	return nil
}

// Get returns the raw value stored under key. Structured values come back
// as the generic JSON types; use Load to decode into a concrete type.
func (s *Store) Get(key string) (any, error) {
	var row KVStore
	err := s.db.Where(&KVStore{Key: key}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("db: get %s: %w", key, err)
	}
	return row.Value, nil
}

// Load decodes the value stored under key into out.
func (s *Store) Load(key string, out any) error {
	v, err := s.Get(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("db: load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("db: load %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete(&KVStore{Key: key}).Error; err != nil {
		return fmt.Errorf("db: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
