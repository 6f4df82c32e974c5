package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var flagUsage = map[string]string{
	"mode":                "gin mode: debug, release or test",
	"port":                "relay server listen port",
	"control_port":        "peer control API port on 127.0.0.1",
	"relay_url":           "relay websocket url",
	"negotiation_timeout": "give up on a call that is not connected after this long",
	"call_rate_limit":     "calls one participant may create per window, 0 disables",
}

func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

// AddFlags registers command-line overrides for keys. Defaults stay with
// viper; a flag only wins when it is set.
func AddFlags(fs *pflag.FlagSet, keys ...string) {
	for _, key := range keys {
		fs.String(flagName(key), "", flagUsage[key])
	}
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := flagUsage[key]; !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}
