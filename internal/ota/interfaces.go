package ota

import (
	"context"
	"time"
)

// ProgressFunc receives transfer progress. remaining is in seconds; a value <= 0 means unknown.
type ProgressFunc func(percent float64, remaining float64)

// Provider is the per-device OTA capability.
type Provider interface {
	// IsUpdateAvailable queries whether a newer image exists. hint may be nil.
	IsUpdateAvailable(ctx context.Context, hint *ImageHint) (AvailabilityResult, error)

	// UpdateToLatest transfers and activates the latest image, returning its file version.
	// onProgress may be called zero or more times before it returns.
	UpdateToLatest(ctx context.Context, onProgress ProgressFunc) (int64, error)
}

// Device is a resolved handle from the Directory.
type Device interface {
	// ID is the stable device identifier.
	ID() string

	// Name is the human-facing name used in messages and state topics.
	Name() string

	// HasDefinition reports whether the device has a recognized capability profile.
	HasDefinition() bool

	// OTA returns the device's provider, or nil when the device does not support OTA.
	OTA() Provider

	// ReadFirmwareIdentity reads the software build id and date code from the device.
	ReadFirmwareIdentity(ctx context.Context) (*FirmwareIdentity, error)

	// RespondNoImageAvailable sends the NO_IMAGE_AVAILABLE answer to a next-image request.
	RespondNoImageAvailable(ctx context.Context, transactionSequence uint8) error
}

// Directory resolves device references.
type Directory interface {
	// Resolve looks a device up by identifier or name.
	Resolve(ref string) (Device, bool)

	// Devices lists every known device.
	Devices() []Device
}

// Publisher emits outbound bus messages.
type Publisher interface {
	PublishState(ctx context.Context, device Device, payload StatePayload) error
	PublishResponse(ctx context.Context, action Action, response Response) error
	PublishLog(ctx context.Context, message LogMessage) error
}

// StateStore persists ledger snapshots across restarts.
type StateStore interface {
	Load(ctx context.Context) (map[string]Record, error)
	Save(ctx context.Context, deviceID string, record Record) error
	Delete(ctx context.Context, deviceID string) error
}

// Coordinator arbitrates devices between replicas that share the request subscriptions.
type Coordinator interface {
	// Acquire takes the device lease for ttl. false means another replica holds it.
	Acquire(ctx context.Context, deviceID string, ttl time.Duration) (bool, error)

	// Release drops a lease taken by Acquire.
	Release(ctx context.Context, deviceID string) error

	// ClaimCheck records an automatic check attempt unless one was made within interval.
	ClaimCheck(ctx context.Context, deviceID string, interval time.Duration) (bool, error)
}

// LifecycleEvents is notified after a successful update.
type LifecycleEvents interface {
	EmitReconfigure(device Device)
	EmitDevicesChanged()
}
