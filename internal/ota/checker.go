package ota

import (
	"context"
	"fmt"

	"github.com/autopeer-io/otabridge/internal/pkg/metrics"
)

// Check queries the device's provider for a newer image. On success the ledger
// follows the result and the new state is published; on failure the ledger is
// left untouched. It fails with ErrInProgress while another operation holds the device.
func (o *Orchestrator) Check(ctx context.Context, dev Device) (AvailabilityResult, error) {
	release, err := o.acquire(ctx, dev)
	if err != nil {
		return AvailabilityResult{}, err
	}
	defer release()

	provider := dev.OTA()
	msg := fmt.Sprintf("Checking if update available for '%s'", dev.Name())
	o.logger.Info(msg)
	o.legacyLog(ctx, LogCheckingAvailable, dev, msg, nil)

	res, rec, err := o.queryAvailability(ctx, dev, provider, nil)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("request", "failed").Inc()
		opErr := newOperationError(err, "Failed to check if update available for '%s' (%s)", dev.Name(), err.Error())
		o.legacyLog(ctx, LogCheckFailed, dev, opErr.Msg, nil)
		return AvailabilityResult{}, opErr
	}
	o.markChecked(dev.ID())
	o.publish(ctx, dev, rec)

	if res.Available {
		metrics.ChecksTotal.WithLabelValues("request", "available").Inc()
		msg = fmt.Sprintf("Update available for '%s'", dev.Name())
		o.logger.Info(msg)
		o.legacyLog(ctx, LogAvailable, dev, msg, nil)
	} else {
		metrics.ChecksTotal.WithLabelValues("request", "not_available").Inc()
		msg = fmt.Sprintf("No update available for '%s'", dev.Name())
		o.logger.Info(msg)
		o.legacyLog(ctx, LogNotAvailable, dev, msg, nil)
	}
	return res, nil
}

// queryAvailability runs the provider query and moves the ledger to available or idle.
func (o *Orchestrator) queryAvailability(ctx context.Context, dev Device, provider Provider, hint *ImageHint) (AvailabilityResult, Record, error) {
	res, err := provider.IsUpdateAvailable(ctx, hint)
	if err != nil {
		return AvailabilityResult{}, Record{}, err
	}

	target := resultRecord(res)
	rec, err := o.ledger.SetState(dev.ID(), Patch{
		State:            target.State,
		InstalledVersion: target.InstalledVersion,
		LatestVersion:    target.LatestVersion,
	})
	if err != nil {
		return AvailabilityResult{}, Record{}, err
	}
	return res, rec, nil
}
