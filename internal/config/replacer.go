package config

import "strings"

// NewDotReplacer maps `cluster.service_id` style viper keys onto
// `CLUSTER_SERVICE_ID` style env vars.
func NewDotReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}
