package models

import (
	"fmt"
)

// WildcardDeviceID is a protocol extension some stream sources accept in
// place of an explicit device list. It is rejected here: wildcard streams
// bypass the per-request device cap and overwhelm the consumer.
const WildcardDeviceID = "*"

// Subscription instructs the stream source to begin sending reports for a
// specific device set within exactly one zone.
type Subscription struct {
	ZoneID    int      `json:"zone_id"`
	DeviceIDs []string `json:"device_ids"`
	RequestID string   `json:"request_id"`
}

func (s *Subscription) Validate(maxDevices int) error {
	if len(s.DeviceIDs) == 0 {
		return fmt.Errorf("subscription %s has no device ids", s.RequestID)
	}
	if len(s.DeviceIDs) > maxDevices {
		return fmt.Errorf("subscription %s carries %d device ids, limit is %d",
			s.RequestID, len(s.DeviceIDs), maxDevices)
	}
	for _, id := range s.DeviceIDs {
		if id == WildcardDeviceID {
			return fmt.Errorf("subscription %s contains wildcard device id", s.RequestID)
		}
	}
	return nil
}
