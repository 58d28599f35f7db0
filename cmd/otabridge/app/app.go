package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"
	"k8s.io/klog/v2"

	"github.com/autopeer-io/otabridge/cmd/otabridge/app/options"
	"github.com/autopeer-io/otabridge/pkg/app"
	"github.com/autopeer-io/otabridge/pkg/log"
)

const (
	commandName = "otabridge"
	commandDesc = `The otabridge orchestrates firmware updates for a fleet of devices over MQTT.
It answers check and update requests on the bridge topics, checks devices
automatically when they ask for a new image, and reports update state.`
)

func NewApp() *app.App {
	opts := options.NewBridgeOptions()
	application := app.NewApp(
		commandName,
		"Launch the otabridge firmware update bridge",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithSubCommands(newStateCommand(), newVersionCommand()),
	)
	return application
}

func run(opts *options.BridgeOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()
		// Library logs from the kubernetes packages go through the same sink.
		klog.SetLogger(log.Logr().WithName("klog"))

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create otabridge server: %w", err)
		}

		return server.Run(ctx)
	}
}
