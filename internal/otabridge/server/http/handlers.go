package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/otabridge/internal/fleet"
	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/pkg/log"
)

type handlers struct {
	fleet *fleet.Fleet
	orch  *ota.Orchestrator
}

// deviceView is a registration together with its update state.
type deviceView struct {
	fleet.Registration
	Update *ota.UpdatePayload `json:"update,omitempty"`
}

func view(d *fleet.Device, rec ota.Record, ok bool) deviceView {
	v := deviceView{Registration: d.Info()}
	if ok {
		u := ota.Format(rec, false).Update
		v.Update = &u
	}
	return v
}

func (h *handlers) listDevices(w http.ResponseWriter, _ *http.Request) {
	devices := h.fleet.List()
	records := h.orch.Snapshot()
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		rec, ok := records[d.ID()]
		out = append(out, view(d, rec, ok))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.fleet.Resolve(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	rec, found := h.orch.Record(dev.ID())
	writeJSON(w, http.StatusOK, view(dev.(*fleet.Device), rec, found))
}

// runAction runs a check synchronously. Updates outlive the request, so they
// are started in the background and answered with 202.
func (h *handlers) runAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref := vars["id"]

	action, ok := ota.ParseAction(vars["action"])
	if !ok {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	if action == ota.ActionUpdate {
		dev, ok := h.fleet.Resolve(ref)
		if !ok {
			writeError(w, ota.ResponseData{ID: ref}, &ota.OperationError{Msg: "Device '" + ref + "' does not exist", Cause: ota.ErrDeviceNotFound})
			return
		}
		if dev.OTA() == nil {
			writeError(w, ota.ResponseData{ID: ref}, &ota.OperationError{
				Msg:   "Device '" + dev.Name() + "' does not support OTA updates",
				Cause: ota.ErrNotSupported,
			})
			return
		}
		if h.orch.InProgress(dev.ID()) {
			writeError(w, ota.ResponseData{ID: ref}, &ota.OperationError{
				Msg:   "Update or check for update already in progress for '" + dev.Name() + "'",
				Cause: ota.ErrInProgress,
			})
			return
		}

		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := h.orch.Execute(ctx, ota.ActionUpdate, ref); err != nil {
				log.FromContext(ctx).Warn("Update started over HTTP failed", "device", ref, "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, ota.Response{Data: ota.ResponseData{ID: ref}, Status: ota.StatusOK})
		return
	}

	data, err := h.orch.Execute(r.Context(), action, ref)
	if err != nil {
		writeError(w, data, err)
		return
	}
	writeJSON(w, http.StatusOK, ota.Response{Data: data, Status: ota.StatusOK})
}

func writeError(w http.ResponseWriter, data ota.ResponseData, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, ota.ErrDeviceNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ota.ErrNotSupported):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, ota.ErrInProgress):
		code = http.StatusConflict
	}
	writeJSON(w, code, ota.Response{Data: data, Status: ota.StatusError, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "error", err)
	}
}
