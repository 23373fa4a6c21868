// internal/models/device.go
package models

import "time"

// PushToken is a device-scoped push credential. Each device carries its own
// cache entry with an independent expiry.
type PushToken struct {
	UserID     string    `json:"userId"`
	DeviceID   string    `json:"deviceId"`
	Token      string    `json:"token"`
	DeviceType string    `json:"deviceType"` // "ios", "android"
	IsActive   bool      `json:"isActive"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// NotificationPreferences is the per-user preference aggregate. The Types map
// is keyed by NotificationType.PreferenceKey(); a missing key means enabled.
type NotificationPreferences struct {
	UserID                  string          `json:"userId"`
	Types                   map[string]bool `json:"types"`
	EnablePushNotifications bool            `json:"enablePushNotifications"`
}

// DefaultPreferences returns the default-enabled preference record created on
// first read for a user.
func DefaultPreferences(userID string) *NotificationPreferences {
	types := make(map[string]bool, len(KnownTypes()))
	for _, t := range KnownTypes() {
		types[t.PreferenceKey()] = true
	}
	return &NotificationPreferences{
		UserID:                  userID,
		Types:                   types,
		EnablePushNotifications: true,
	}
}

// Allows reports whether push delivery for the given type is permitted.
// Only an explicit false disables a type.
func (p *NotificationPreferences) Allows(t NotificationType) bool {
	if p == nil {
		return true
	}
	if !p.EnablePushNotifications {
		return false
	}
	enabled, ok := p.Types[t.PreferenceKey()]
	if !ok {
		return true
	}
	return enabled
}
