package configuration

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the standard environment variable prefix
var EnvPrefix = "HARVESTER"

// ConfigKey describes one allowed process configuration key
type ConfigKey struct {
	Name         string
	DefaultValue interface{}
	Description  string
}

// AllowedConfigKey list every allowed configuration key
var AllowedConfigKey = []ConfigKey{
	{Name: "LOGGER_PRODUCTION", DefaultValue: true, Description: "Enable or disable production log"},
	{Name: "SERVICEBUS_CONNECTION_STRING", DefaultValue: "", Description: "Service Bus connection string"},
	{Name: "SERVICEBUS_NAMESPACE", DefaultValue: "", Description: "Service Bus fully qualified namespace (identity-based credential)"},
	{Name: "RECEIVE_MAX_WAIT_SEC", DefaultValue: 5, Description: "Maximum wait per queue poll (in seconds)"},
	{Name: "MONITORING_PORT", DefaultValue: 9101, Description: "Monitoring HTTP server port (health and metrics)"},
}

// InitializeConfig binds environment variables and defaults for every allowed key
func InitializeConfig() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	for _, key := range AllowedConfigKey {
		viper.SetDefault(key.Name, key.DefaultValue)
	}
}
