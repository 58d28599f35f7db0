package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/otabridge/internal/otabridge"
	"github.com/autopeer-io/otabridge/pkg/app"
	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/options"
)

type BridgeOptions struct {
	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	GrpcOptions  *options.GrpcOptions  `json:"grpc" mapstructure:"grpc"`
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	S3Options    *options.S3Options    `json:"s3" mapstructure:"s3"`
	RedisOptions *options.RedisOptions `json:"redis" mapstructure:"redis"`
	OTAOptions   *options.OTAOptions   `json:"ota" mapstructure:"ota"`
	Log          *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*BridgeOptions)(nil)

func NewBridgeOptions() *BridgeOptions {
	return &BridgeOptions{
		HttpOptions:  options.NewHttpOptions(),
		GrpcOptions:  options.NewGrpcOptions(),
		MqttOptions:  options.NewMqttOptions(),
		S3Options:    options.NewS3Options(),
		RedisOptions: options.NewRedisOptions(),
		OTAOptions:   options.NewOTAOptions(),
		Log:          log.NewOptions(),
	}
}

func (o *BridgeOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.OTAOptions.AddFlags(fss.FlagSet("ota"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *BridgeOptions) Complete() error {
	return nil
}

func (o *BridgeOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.OTAOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if o.OTAOptions.IndexInObjectStore() && !o.S3Options.Enabled() {
		errs = append(errs, fmt.Errorf("firmware index %q is in object storage, but --s3.endpoint is not set", o.OTAOptions.ActiveIndexLocation()))
	}
	return utilerrors.NewAggregate(errs)
}

func (o *BridgeOptions) Config() (*otabridge.Config, error) {
	return &otabridge.Config{
		HttpOptions:  o.HttpOptions,
		GrpcOptions:  o.GrpcOptions,
		MqttOptions:  o.MqttOptions,
		S3Options:    o.S3Options,
		RedisOptions: o.RedisOptions,
		OTAOptions:   o.OTAOptions,
	}, nil
}
