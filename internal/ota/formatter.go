package ota

import (
	"k8s.io/utils/ptr"
)

// UpdatePayload is the "update" object of a device's public state.
type UpdatePayload struct {
	State            State    `json:"state"`
	InstalledVersion *int64   `json:"installed_version"`
	LatestVersion    *int64   `json:"latest_version"`
	Progress         *float64 `json:"progress,omitempty"`
	Remaining        *int64   `json:"remaining,omitempty"`
}

// StatePayload is merged into a device's public state topic.
type StatePayload struct {
	Update UpdatePayload `json:"update"`

	// UpdateAvailable is only set for legacy API consumers.
	UpdateAvailable *bool `json:"update_available,omitempty"`
}

// Format builds the outward state payload from a ledger snapshot.
// Progress and remaining are copied only when present.
func Format(r Record, legacy bool) StatePayload {
	r = r.clone()
	p := StatePayload{
		Update: UpdatePayload{
			State:            r.State,
			InstalledVersion: r.InstalledVersion,
			LatestVersion:    r.LatestVersion,
			Progress:         r.Progress,
			Remaining:        r.Remaining,
		},
	}
	if legacy {
		p.UpdateAvailable = ptr.To(r.State == StateAvailable)
	}
	return p
}

// resultRecord is the record a finished check leaves behind.
func resultRecord(res AvailabilityResult) Record {
	r := Record{State: StateIdle}
	if res.Available {
		r.State = StateAvailable
	}
	if res.CurrentFileVersion != nil {
		r.InstalledVersion = ptr.To(*res.CurrentFileVersion)
	}
	if res.OTAFileVersion != nil {
		r.LatestVersion = ptr.To(*res.OTAFileVersion)
	}
	return r
}
