package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"github.com/BradenHooton/stepgate/internal/cache"
)

// TrustedDevice is the stored record of a device that completed a second factor
type TrustedDevice struct {
	VerifiedAt time.Time `json:"verified_at"`
	DeviceName string    `json:"device_name,omitempty"`
}

// DeviceTrustService remembers devices that passed a second factor so they
// can skip it until the trust period ends. Records are keyed by
// "trusted-device:{user_id}:{device_id}" and expire on their own.
type DeviceTrustService struct {
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewDeviceTrustService creates a DeviceTrustService
func NewDeviceTrustService(store cache.Store, ttl time.Duration, logger *slog.Logger) *DeviceTrustService {
	return &DeviceTrustService{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// AddDevice records deviceID as trusted for userID. An empty device id is ignored.
func (s *DeviceTrustService) AddDevice(ctx context.Context, userID, deviceID, userAgent string) error {
	if deviceID == "" {
		return nil
	}

	data, err := json.Marshal(TrustedDevice{
		VerifiedAt: s.now().UTC(),
		DeviceName: deviceName(userAgent),
	})
	if err != nil {
		return fmt.Errorf("encode trusted device: %w", err)
	}

	if err := s.store.Set(ctx, s.key(userID, deviceID), data, s.ttl); err != nil {
		return fmt.Errorf("store trusted device: %w", err)
	}

	return nil
}

// HasDevice reports whether deviceID is trusted for userID
func (s *DeviceTrustService) HasDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}

	if _, err := s.store.Get(ctx, s.key(userID, deviceID)); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("load trusted device: %w", err)
	}

	return true, nil
}

// GetDevice returns the stored record; ok is false when the device is not trusted
func (s *DeviceTrustService) GetDevice(ctx context.Context, userID, deviceID string) (*TrustedDevice, bool, error) {
	if deviceID == "" {
		return nil, false, nil
	}

	data, err := s.store.Get(ctx, s.key(userID, deviceID))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load trusted device: %w", err)
	}

	var device TrustedDevice
	if err := json.Unmarshal(data, &device); err != nil {
		// Presence is what matters; an unreadable label is not fatal
		s.logger.Warn("unreadable trusted device record",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return &TrustedDevice{}, true, nil
	}

	return &device, true, nil
}

// RemoveDevice revokes trust for deviceID
func (s *DeviceTrustService) RemoveDevice(ctx context.Context, userID, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	if err := s.store.Delete(ctx, s.key(userID, deviceID)); err != nil {
		return fmt.Errorf("delete trusted device: %w", err)
	}
	return nil
}

func (s *DeviceTrustService) key(userID, deviceID string) string {
	return "trusted-device:" + userID + ":" + deviceID
}

// deviceName renders a label such as "Chrome on Windows 10" from a User-Agent
func deviceName(userAgent string) string {
	if userAgent == "" {
		return ""
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			os = platform
		}
	}

	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + os)
}
