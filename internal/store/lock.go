package store

import (
	"time"

	"github.com/jinzhu/gorm"

	"github.com/ethingest/blocks/internal/model"
)

// CountLiveLocks returns the number of rows named name whose updated
// timestamp is within the lease window, excluding pid's own row.
func (s *Store) CountLiveLocks(name string, pid int, lease time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&model.Lock{}).
		Where("name = ? AND pid <> ? AND updated > ?", name, pid, time.Now().Add(-lease)).
		Count(&count).Error
	return count, err
}

// FindLiveLock returns the lock row for (name, pid) if it is still
// within its lease, or (nil, nil) if absent/expired.
func (s *Store) FindLiveLock(name string, pid int, lease time.Duration) (*model.Lock, error) {
	var lock model.Lock
	err := s.db.Where("name = ? AND pid = ? AND updated > ?", name, pid, time.Now().Add(-lease)).
		First(&lock).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// InsertLock creates a new lock row with updated = now().
func (s *Store) InsertLock(name string, pid int) error {
	return s.db.Create(&model.Lock{Name: name, Pid: pid, Updated: time.Now()}).Error
}

// RenewLock sets updated = now() for every (name, pid) row, which is
// also how an existing-holder's repeated Lock() call is renewed.
func (s *Store) RenewLock(name string, pid int) error {
	return s.db.Model(&model.Lock{}).
		Where("name = ? AND pid = ?", name, pid).
		Update("updated", time.Now()).Error
}

// DeleteLocks removes every row matching (name, pid).
func (s *Store) DeleteLocks(name string, pid int) error {
	return s.db.Where("name = ? AND pid = ?", name, pid).Delete(&model.Lock{}).Error
}
