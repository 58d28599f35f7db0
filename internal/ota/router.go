package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"k8s.io/utils/ptr"

	"github.com/autopeer-io/otabridge/internal/pkg/metrics"
	"github.com/autopeer-io/otabridge/internal/pkg/mqtt/paths"
)

// ParseRequest turns an inbound bus message into a PendingRequest. The legacy
// topic is only recognized when the legacy API is enabled.
func (o *Orchestrator) ParseRequest(topic string, payload []byte) (PendingRequest, error) {
	rest, ok := o.topics.Trim(topic)
	if !ok {
		return PendingRequest{}, fmt.Errorf("%w: topic %q outside %q", ErrInvalidRequest, topic, o.topics.Root())
	}

	var req PendingRequest
	var level string
	if after, ok := strings.CutPrefix(rest, paths.OTARequestCurrent+"/"); ok {
		req.Flavor, level = FlavorCurrent, after
	} else if after, ok := strings.CutPrefix(rest, paths.OTALegacy+"/"); ok && o.cfg.LegacyAPI {
		req.Flavor, level = FlavorLegacy, after
	} else {
		return PendingRequest{}, fmt.Errorf("%w: unexpected topic %q", ErrInvalidRequest, topic)
	}

	if req.Action, ok = ParseAction(level); !ok {
		return req, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, level)
	}

	id, transaction, err := parseBody(payload)
	req.ID, req.Transaction = id, transaction
	return req, err
}

// parseBody accepts {"id": ..., "transaction": ...}, a JSON string, or bare text.
func parseBody(payload []byte) (string, any, error) {
	body := bytes.TrimSpace(payload)
	switch {
	case len(body) == 0:
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidRequest)
	case body[0] == '{':
		var msg struct {
			ID          json.RawMessage `json:"id"`
			Transaction any             `json:"transaction,omitempty"`
		}
		if err := json.Unmarshal(body, &msg); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		id, err := rawID(msg.ID)
		if err != nil {
			return "", msg.Transaction, err
		}
		return id, msg.Transaction, nil
	case body[0] == '"':
		var id string
		if err := json.Unmarshal(body, &id); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if id == "" {
			return "", nil, fmt.Errorf("%w: empty id", ErrInvalidRequest)
		}
		return id, nil, nil
	}
	return string(body), nil, nil
}

// rawID accepts a string or numeric id.
func rawID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing id", ErrInvalidRequest)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("%w: empty id", ErrInvalidRequest)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: id must be a string", ErrInvalidRequest)
	}
	return n.String(), nil
}

// HandleCommand parses, validates and runs one inbound command, then answers
// it on the response topic unless it arrived on the legacy topic.
func (o *Orchestrator) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	req, err := o.ParseRequest(topic, payload)
	if err != nil {
		metrics.RequestsRejected.WithLabelValues("invalid").Inc()
		o.logger.Error(err, "Invalid OTA request", "topic", topic)
		if req.Action != "" && req.Flavor == FlavorCurrent {
			o.respond(ctx, req, errorResponse(ResponseData{ID: req.ID}, err, req.Transaction))
		}
		return err
	}

	data, err := o.dispatch(ctx, req)
	if err != nil {
		o.logger.Error(nil, err.Error(), "action", req.Action, "flavor", req.Flavor.String())
		if cause := errors.Unwrap(err); cause != nil {
			o.logger.Debug("OTA request failure cause", "device", req.ID, "cause", cause.Error())
		}
	}

	if req.Flavor == FlavorLegacy {
		return err
	}
	if err != nil {
		o.respond(ctx, req, errorResponse(data, err, req.Transaction))
	} else {
		o.respond(ctx, req, okResponse(data, req.Transaction))
	}
	return err
}

func (o *Orchestrator) dispatch(ctx context.Context, req PendingRequest) (ResponseData, error) {
	data := ResponseData{ID: req.ID}

	dev, ok := o.resolve(req.ID)
	if !ok {
		metrics.RequestsRejected.WithLabelValues("not_found").Inc()
		return data, newOperationError(ErrDeviceNotFound, "Device '%s' does not exist", req.ID)
	}
	if dev.OTA() == nil {
		metrics.RequestsRejected.WithLabelValues("not_supported").Inc()
		err := newOperationError(ErrNotSupported, "Device '%s' does not support OTA updates", dev.Name())
		o.legacyLog(ctx, LogNotSupported, dev, err.Msg, nil)
		return data, err
	}

	switch req.Action {
	case ActionCheck:
		res, err := o.Check(ctx, dev)
		if err != nil {
			rejected(err)
			return data, err
		}
		data.UpdateAvailable = ptr.To(res.Available)
	case ActionUpdate:
		out, err := o.Update(ctx, dev)
		if err != nil {
			rejected(err)
			return data, err
		}
		data.From, data.To = out.From, out.To
	}
	return data, nil
}

func rejected(err error) {
	if errors.Is(err, ErrInProgress) {
		metrics.RequestsRejected.WithLabelValues("in_progress").Inc()
	}
}

func (o *Orchestrator) respond(ctx context.Context, req PendingRequest, resp Response) {
	if req.Action == "" {
		return
	}
	if err := o.pub.PublishResponse(ctx, req.Action, resp); err != nil {
		o.logger.Warn("Failed to publish OTA response", "action", req.Action, "error", err)
	}
}

// Execute runs action for the device referenced by ref outside the bus, as if
// it had arrived on the current request topic, without publishing a response.
func (o *Orchestrator) Execute(ctx context.Context, action Action, ref string) (ResponseData, error) {
	return o.dispatch(ctx, PendingRequest{ID: ref, Action: action, Flavor: FlavorCurrent})
}
