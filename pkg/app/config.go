package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFlagName = "config"

func (a *App) addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&a.cfgFile, configFlagName, "c", a.cfgFile, "Read configuration from specified `FILE`, "+
		"support JSON, TOML, YAML, HCL, or Java properties formats.")

	// Environment variables such as OTABRIDGE_MQTT_BROKER override the file.
	a.viper.SetEnvPrefix(strings.ReplaceAll(strings.ToUpper(a.basename), "-", "_"))
	a.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.viper.AutomaticEnv()
}

// loadConfig reads the --config file, or {basename}.yaml from the working
// directory, $HOME/.{basename} and /etc/{basename}. A missing default file is fine.
func (a *App) loadConfig() error {
	if a.cfgFile != "" {
		a.viper.SetConfigFile(a.cfgFile)
	} else {
		a.viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			a.viper.AddConfigPath(filepath.Join(home, "."+a.basename))
		}
		a.viper.AddConfigPath(filepath.Join("/etc", a.basename))
		a.viper.SetConfigName(a.basename)
		a.viper.SetConfigType("yaml")
	}

	if err := a.viper.ReadInConfig(); err != nil {
		if a.cfgFile == "" && errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil
		}
		return fmt.Errorf("failed to read configuration file(%s): %w", a.cfgFile, err)
	}
	return nil
}
