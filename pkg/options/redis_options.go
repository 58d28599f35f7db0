package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configure the persisted update state store.
type RedisOptions struct {
	// Addr is host:port of the redis server. Empty keeps state in memory only.
	Addr     string `json:"addr" mapstructure:"addr"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database int    `json:"database" mapstructure:"database"`

	// Key is the hash holding one field per device.
	Key string `json:"key" mapstructure:"key"`
}

// NewRedisOptions creates a RedisOptions object with default parameters.
func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Key: "otabridge:state",
	}
}

// Enabled reports whether a redis server is configured.
func (o *RedisOptions) Enabled() bool {
	return o != nil && o.Addr != ""
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *RedisOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.Database < 0 {
		errors = append(errors, fmt.Errorf("--redis.database must not be negative"))
	}
	if o.Key == "" {
		errors = append(errors, fmt.Errorf("--redis.key must be specified"))
	}

	return errors
}

// AddFlags adds flags for RedisOptions to the specified FlagSet.
func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "redis.addr", o.Addr, "Address of the redis server holding update state. Empty keeps state in memory.")
	fs.StringVar(&o.Username, "redis.username", o.Username, "Redis ACL username.")
	fs.StringVar(&o.Password, "redis.password", o.Password, "Redis password.")
	fs.IntVar(&o.Database, "redis.database", o.Database, "Redis logical database.")
	fs.StringVar(&o.Key, "redis.key", o.Key, "Redis hash storing one update record per device.")
}
