package alarm

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const alarmBucketName = "alarms"

// DB defines the interface for alarm persistence
type DB interface {
	// SaveAlarm inserts or replaces an alarm
	SaveAlarm(alarm *Alarm) error

	// GetAlarm retrieves an alarm by ID
	GetAlarm(id string) (*Alarm, error)

	// ListAlarms returns all alarms
	ListAlarms() ([]*Alarm, error)

	// DeleteAlarm removes an alarm
	DeleteAlarm(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database file and its bucket
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(alarmBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveAlarm inserts or replaces an alarm
func (b *BoltDB) SaveAlarm(alarm *Alarm) error {
	data, err := json.Marshal(alarm)
	if err != nil {
		return fmt.Errorf("marshaling alarm: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(alarmBucketName)).Put([]byte(alarm.ID), data)
	})
}

// GetAlarm retrieves an alarm by ID
func (b *BoltDB) GetAlarm(id string) (*Alarm, error) {
	var alarm Alarm
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(alarmBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrAlarmNotFound, id)
		}
		return json.Unmarshal(data, &alarm)
	})
	if err != nil {
		return nil, err
	}
	return &alarm, nil
}

// ListAlarms returns all alarms in key order
func (b *BoltDB) ListAlarms() ([]*Alarm, error) {
	alarms := make([]*Alarm, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(alarmBucketName)).ForEach(func(k, v []byte) error {
			var alarm Alarm
			if err := json.Unmarshal(v, &alarm); err != nil {
				return fmt.Errorf("unmarshaling alarm %s: %w", k, err)
			}
			alarms = append(alarms, &alarm)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return alarms, nil
}

// DeleteAlarm removes an alarm; deleting a missing ID is not an error
func (b *BoltDB) DeleteAlarm(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(alarmBucketName)).Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
