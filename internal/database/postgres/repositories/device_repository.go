package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"rtls-stream/internal/models"
)

type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) GetTrackedDevices(ctx context.Context) ([]*models.TrackedDevice, error) {
	var devices []*models.TrackedDevice
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&devices).Error
	return devices, err
}

func (r *DeviceRepository) MarkInactiveDevices(ctx context.Context, timeout time.Duration) error {
	cutoff := time.Now().Add(-timeout)
	return r.db.WithContext(ctx).Model(&models.TrackedDevice{}).
		Where("last_seen < ? AND is_active = ?", cutoff, true).
		Update("is_active", false).Error
}

func (r *DeviceRepository) TouchLastSeen(ctx context.Context, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.TrackedDevice{}).
		Where("device_id IN ?", deviceIDs).
		Update("last_seen", time.Now()).Error
}
