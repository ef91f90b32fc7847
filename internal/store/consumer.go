package store

import (
	"time"

	"github.com/ethingest/blocks/internal/model"
)

// PingConsumer updates last_seen for uuid to now.
func (s *Store) PingConsumer(uuid string) error {
	now := time.Now()
	return s.db.Model(&model.Consumer{}).Where("consumer_uuid = ?", uuid).
		Update("last_seen", &now).Error
}

// DeactivateConsumer soft-deletes a consumer registration.
func (s *Store) DeactivateConsumer(uuid string) error {
	return s.db.Model(&model.Consumer{}).Where("consumer_uuid = ?", uuid).
		Update("active", false).Error
}
