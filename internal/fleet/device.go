package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/autopeer-io/otabridge/internal/ota"
)

// Device is one registered agent. It implements ota.Device.
type Device struct {
	fleet *Fleet

	mu  sync.RWMutex
	reg Registration
}

var _ ota.Device = (*Device)(nil)

func (d *Device) ID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reg.ID
}

// Name is the friendly name, or the id when none was registered.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.reg.FriendlyName != "" {
		return d.reg.FriendlyName
	}
	return d.reg.ID
}

// HasDefinition reports whether the agent announced its model.
func (d *Device) HasDefinition() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reg.Model != ""
}

func (d *Device) OTA() ota.Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.reg.Supported {
		return nil
	}
	return &provider{dev: d}
}

// Info returns a copy of the registration.
func (d *Device) Info() Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := d.reg
	if d.reg.FileVersion != nil {
		v := *d.reg.FileVersion
		out.FileVersion = &v
	}
	if d.reg.Firmware != nil {
		fw := *d.reg.Firmware
		out.Firmware = &fw
	}
	return out
}

func (d *Device) ReadFirmwareIdentity(ctx context.Context) (*ota.FirmwareIdentity, error) {
	ack, err := d.fleet.send(ctx, d.ID(), Command{Type: CommandReadIdentity}, nil, d.fleet.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if ack.Firmware == nil {
		return nil, errors.New("device returned no firmware identity")
	}

	d.mu.Lock()
	fw := *ack.Firmware
	d.reg.Firmware = &fw
	d.mu.Unlock()
	return ack.Firmware, nil
}

func (d *Device) RespondNoImageAvailable(ctx context.Context, transactionSequence uint8) error {
	return d.fleet.respondNoImage(ctx, d.ID(), transactionSequence)
}

func (d *Device) observeVersion(v int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reg.FileVersion = &v
}

// provider resolves availability against the firmware catalog and drives
// the transfer through the agent's ota_update command.
type provider struct {
	dev *Device
}

func (p *provider) IsUpdateAvailable(ctx context.Context, hint *ota.ImageHint) (ota.AvailabilityResult, error) {
	info := p.dev.Info()
	current, imageType := info.FileVersion, info.ImageType
	if hint != nil {
		if hint.FileVersion > 0 {
			v := hint.FileVersion
			current = &v
		}
		if hint.ImageType != 0 {
			imageType = hint.ImageType
		}
	}
	if current == nil {
		return ota.AvailabilityResult{}, errors.New("device has not reported its firmware version")
	}

	img, found, err := p.dev.fleet.catalog.Latest(ctx, info.Model, imageType)
	if err != nil {
		return ota.AvailabilityResult{}, err
	}
	if !found {
		return ota.AvailabilityResult{CurrentFileVersion: current, OTAFileVersion: current}, nil
	}

	latest := img.FileVersion
	return ota.AvailabilityResult{
		Available:          latest > *current,
		CurrentFileVersion: current,
		OTAFileVersion:     &latest,
	}, nil
}

func (p *provider) UpdateToLatest(ctx context.Context, onProgress ota.ProgressFunc) (int64, error) {
	f := p.dev.fleet
	info := p.dev.Info()

	img, found, err := f.catalog.Latest(ctx, info.Model, info.ImageType)
	if err != nil {
		return 0, err
	}
	if !found || (info.FileVersion != nil && img.FileVersion <= *info.FileVersion) {
		return 0, fmt.Errorf("%w for model %q", ErrNoImage, info.Model)
	}

	url, err := f.catalog.DownloadURL(ctx, img)
	if err != nil {
		return 0, err
	}

	cmd := Command{Type: CommandOTAUpdate, URL: url, FileVersion: img.FileVersion}
	ack, err := f.send(ctx, info.ID, cmd, onProgress, f.cfg.UpdateTimeout)
	if err != nil {
		return 0, err
	}

	version := img.FileVersion
	if ack.FileVersion > 0 {
		version = ack.FileVersion
	}
	p.dev.observeVersion(version)
	if ack.Firmware != nil {
		p.dev.mu.Lock()
		fw := *ack.Firmware
		p.dev.reg.Firmware = &fw
		p.dev.mu.Unlock()
	}
	return version, nil
}
