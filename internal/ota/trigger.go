package ota

import (
	"context"
	"fmt"

	"github.com/autopeer-io/otabridge/internal/pkg/metrics"
)

// HandleDeviceMessage reacts to a device asking for its next image. Unless the
// device is busy or unknown to the capability catalog, the device is told that
// no image is available once the optional automatic check has run.
func (o *Orchestrator) HandleDeviceMessage(ctx context.Context, msg DeviceMessage) {
	dev := msg.Device
	if msg.Type != MessageQueryNextImage || dev == nil || !dev.HasDefinition() {
		return
	}
	if o.ledger.InProgress(dev.ID()) {
		return
	}

	if provider := dev.OTA(); provider != nil && !o.cfg.DisableAutomaticCheck {
		o.autoCheck(ctx, dev, provider, msg.Hint)
	}

	// Always answer, otherwise the device keeps polling.
	if err := dev.RespondNoImageAvailable(ctx, msg.TransactionSequence); err != nil {
		metrics.NextImageResponses.WithLabelValues("failed").Inc()
		o.logger.Debug("Failed to respond to next image request", "device", dev.Name(), "error", err)
		return
	}
	metrics.NextImageResponses.WithLabelValues("sent").Inc()
}

func (o *Orchestrator) autoCheck(ctx context.Context, dev Device, provider Provider, hint *ImageHint) {
	// The busy test above and this acquisition are separate steps; losing the
	// race to an explicit request simply skips the check.
	release, err := o.lock(ctx, dev.ID())
	if err != nil {
		o.logger.Warn("Failed to lock device for automatic check", "device", dev.Name(), "error", err)
		return
	}
	if release == nil {
		return
	}
	defer release()

	if !o.claimCheck(ctx, dev.ID()) {
		return
	}

	res, rec, err := o.queryAvailability(ctx, dev, provider, hint)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("automatic", "failed").Inc()
		o.logger.Debug(fmt.Sprintf("Failed to check if update available for '%s' (%s)", dev.Name(), err.Error()))
		// The ledger keeps its last known state.
		rec, _ = o.ledger.Get(dev.ID())
		o.publish(ctx, dev, rec)
		return
	}
	o.publish(ctx, dev, rec)

	if !res.Available {
		metrics.ChecksTotal.WithLabelValues("automatic", "not_available").Inc()
		return
	}
	metrics.ChecksTotal.WithLabelValues("automatic", "available").Inc()
	text := fmt.Sprintf("Update available for '%s'", dev.Name())
	o.logger.Info(text)
	o.legacyLog(ctx, LogAvailable, dev, text, nil)
}
