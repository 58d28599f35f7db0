package ota

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/autopeer-io/otabridge/internal/pkg/metrics"
)

// Update installs the latest image on dev, streaming progress into the ledger.
// A success leaves the device idle with converged versions and emits the
// lifecycle events; a failure leaves it available. Progress is cleared either way.
func (o *Orchestrator) Update(ctx context.Context, dev Device) (UpdateOutcome, error) {
	release, err := o.acquire(ctx, dev)
	if err != nil {
		return UpdateOutcome{}, err
	}
	defer release()

	provider := dev.OTA()
	logger := o.logger.WithValues("device", dev.Name())

	msg := fmt.Sprintf("Updating '%s' to latest firmware", dev.Name())
	logger.Info(msg)
	o.legacyLog(ctx, LogUpdateInProgress, dev, msg, nil)

	from := o.readIdentity(ctx, dev)

	rec, err := o.ledger.SetState(dev.ID(), Patch{State: StateUpdating})
	if err != nil {
		return UpdateOutcome{}, newOperationError(err, "Update of '%s' failed (%s)", dev.Name(), err.Error())
	}
	o.publish(ctx, dev, rec)

	// progressMu orders progress reports against the terminal transition below.
	var (
		progressMu sync.Mutex
		finished   bool
		last       float64
	)
	onProgress := func(percent, remaining float64) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if finished {
			return
		}
		// Reports may arrive reordered; progress never goes backwards.
		if percent < last {
			logger.Debug("Dropped stale progress report", "progress", percent, "last", last)
			return
		}
		last = percent

		// Each report replaces the previous one; an unknown remaining time is stored as 0.
		var secs int64
		text := fmt.Sprintf("Update of '%s' at %.2f%%", dev.Name(), percent)
		if remaining > 0 {
			secs = int64(math.Round(remaining))
			text += fmt.Sprintf(", ≈ %d minutes remaining", int64(math.Round(remaining/60)))
		}
		patch := Patch{State: StateUpdating, Progress: &percent, Remaining: &secs}

		rec, err := o.ledger.SetState(dev.ID(), patch)
		if err != nil {
			logger.Debug("Dropped progress report", "error", err)
			return
		}
		o.publish(ctx, dev, rec)
		logger.Info(text)

		o.legacyLog(ctx, LogUpdateProgress, dev, text, map[string]any{"progress": percent, "remaining": secs})
	}

	started := o.now()
	fileVersion, updateErr := provider.UpdateToLatest(ctx, onProgress)
	elapsed := o.now().Sub(started).Seconds()

	progressMu.Lock()
	finished = true
	progressMu.Unlock()

	if _, err := o.ledger.ClearProgress(dev.ID()); err != nil {
		logger.Debug("Failed to clear update progress", "error", err)
	}

	if updateErr != nil {
		metrics.UpdatesTotal.WithLabelValues("failed").Inc()
		metrics.UpdateDuration.WithLabelValues("failed").Observe(elapsed)

		if rec, err := o.ledger.SetState(dev.ID(), Patch{State: StateAvailable}); err == nil {
			o.publish(ctx, dev, rec)
		}
		opErr := newOperationError(updateErr, "Update of '%s' failed (%s)", dev.Name(), updateErr.Error())
		o.legacyLog(ctx, LogUpdateFailed, dev, opErr.Msg, nil)
		return UpdateOutcome{}, opErr
	}

	metrics.UpdatesTotal.WithLabelValues("succeeded").Inc()
	metrics.UpdateDuration.WithLabelValues("succeeded").Observe(elapsed)
	logger.Info(fmt.Sprintf("Finished update of '%s'", dev.Name()))

	rec, err = o.ledger.SetState(dev.ID(), Patch{
		State:            StateIdle,
		InstalledVersion: &fileVersion,
		LatestVersion:    &fileVersion,
	})
	if err != nil {
		logger.Error(err, "Failed to record finished update")
	}

	to := o.readIdentity(ctx, dev)
	msg = fmt.Sprintf("Device '%s' was updated from '%s' to '%s'", dev.Name(), identityString(from), identityString(to))
	logger.Info(msg)

	if o.events != nil {
		o.events.EmitReconfigure(dev)
		o.events.EmitDevicesChanged()
	}

	if err == nil {
		o.publish(ctx, dev, rec)
	}
	o.legacyLog(ctx, LogUpdateSucceeded, dev, msg, map[string]any{"from": from, "to": to})

	return UpdateOutcome{From: from, To: to, FileVersion: fileVersion}, nil
}

// readIdentity reads the firmware identity, treating a failed read as unknown.
func (o *Orchestrator) readIdentity(ctx context.Context, dev Device) *FirmwareIdentity {
	id, err := dev.ReadFirmwareIdentity(ctx)
	if err != nil {
		o.logger.Debug("Failed to read firmware identity", "device", dev.Name(), "error", err)
		return nil
	}
	return id
}

func identityString(id *FirmwareIdentity) string {
	if id == nil {
		return "null"
	}
	b, err := json.Marshal(id)
	if err != nil {
		return id.SoftwareBuildID
	}
	return string(b)
}
