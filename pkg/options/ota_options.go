package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OTAOptions)(nil)

// OTAOptions configure update checks and installations.
type OTAOptions struct {
	DisableAutomaticUpdateCheck bool          `json:"disable-automatic-update-check" mapstructure:"disable-automatic-update-check"`
	UpdateCheckInterval         time.Duration `json:"update-check-interval" mapstructure:"update-check-interval"`
	LegacyAPI                   bool          `json:"legacy-api" mapstructure:"legacy-api"`

	// IndexLocation is where the firmware index is read from by default: a path,
	// an http(s) URL, or s3://{objectKey} in the configured bucket.
	IndexLocation         string `json:"index-location" mapstructure:"index-location"`
	IndexOverrideLocation string `json:"index-override-location" mapstructure:"index-override-location"`
	UseTestIndex          bool   `json:"use-test-index" mapstructure:"use-test-index"`
	TestIndexLocation     string `json:"test-index-location" mapstructure:"test-index-location"`

	// IndexRefreshInterval re-reads remote indexes. Local files are watched instead.
	IndexRefreshInterval time.Duration `json:"index-refresh-interval" mapstructure:"index-refresh-interval"`

	// RequestTimeout bounds short device commands such as identity reads.
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`

	// UpdateTimeout bounds a complete image transfer.
	UpdateTimeout time.Duration `json:"update-timeout" mapstructure:"update-timeout"`
}

// NewOTAOptions creates an OTAOptions object with default parameters.
func NewOTAOptions() *OTAOptions {
	return &OTAOptions{
		UpdateCheckInterval:  1440 * time.Minute,
		IndexLocation:        "index.json",
		TestIndexLocation:    "index-test.json",
		IndexRefreshInterval: 10 * time.Minute,
		RequestTimeout:       30 * time.Second,
		UpdateTimeout:        2 * time.Hour,
	}
}

// ActiveIndexLocation returns the index to load: the test index when enabled,
// then the override, then the default.
func (o *OTAOptions) ActiveIndexLocation() string {
	switch {
	case o.UseTestIndex:
		return o.TestIndexLocation
	case o.IndexOverrideLocation != "":
		return o.IndexOverrideLocation
	}
	return o.IndexLocation
}

// ObjectStorePrefix marks an index location that is a key in the s3 bucket.
const ObjectStorePrefix = "s3://"

// IndexInObjectStore reports whether the active index is read from the s3 bucket.
func (o *OTAOptions) IndexInObjectStore() bool {
	return strings.HasPrefix(o.ActiveIndexLocation(), ObjectStorePrefix)
}

// LeaseTTL is how long a device stays locked for other replicas: two identity
// reads around a full transfer, plus slack.
func (o *OTAOptions) LeaseTTL() time.Duration {
	return o.UpdateTimeout + 2*o.RequestTimeout + time.Minute
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *OTAOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.UpdateCheckInterval < time.Minute {
		errors = append(errors, fmt.Errorf("--ota.update-check-interval must be at least 1m, got %s", o.UpdateCheckInterval))
	}
	if o.ActiveIndexLocation() == "" {
		errors = append(errors, fmt.Errorf("no firmware index location configured"))
	}
	if o.RequestTimeout <= 0 {
		errors = append(errors, fmt.Errorf("--ota.request-timeout must be positive"))
	}
	if o.UpdateTimeout <= o.RequestTimeout {
		errors = append(errors, fmt.Errorf("--ota.update-timeout must exceed --ota.request-timeout"))
	}

	return errors
}

// AddFlags adds flags for OTAOptions to the specified FlagSet.
func (o *OTAOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.DisableAutomaticUpdateCheck, "ota.disable-automatic-update-check", o.DisableAutomaticUpdateCheck, "Do not check for updates when a device asks for its next image.")
	fs.DurationVar(&o.UpdateCheckInterval, "ota.update-check-interval", o.UpdateCheckInterval, "Minimum time between automatic checks of one device.")
	fs.BoolVar(&o.LegacyAPI, "ota.legacy-api", o.LegacyAPI, "Accept the legacy bridge/ota_update topics and publish bridge/log messages.")
	fs.StringVar(&o.IndexLocation, "ota.index-location", o.IndexLocation, "Default firmware index: file path, http(s) URL or s3://{key}.")
	fs.StringVar(&o.IndexOverrideLocation, "ota.index-override-location", o.IndexOverrideLocation, "Firmware index used instead of the default one.")
	fs.BoolVar(&o.UseTestIndex, "ota.use-test-index", o.UseTestIndex, "Use the test firmware index.")
	fs.StringVar(&o.TestIndexLocation, "ota.test-index-location", o.TestIndexLocation, "Location of the test firmware index.")
	fs.DurationVar(&o.IndexRefreshInterval, "ota.index-refresh-interval", o.IndexRefreshInterval, "How often a remote firmware index is re-read. 0 disables refresh.")
	fs.DurationVar(&o.RequestTimeout, "ota.request-timeout", o.RequestTimeout, "Timeout of short device commands.")
	fs.DurationVar(&o.UpdateTimeout, "ota.update-timeout", o.UpdateTimeout, "Timeout of a complete firmware update.")
}
