// Package config loads the proxy configuration from config.yaml and
// environment variables with spf13/viper and validates it with
// ozzo-validation. Without a config file the defaults reproduce the
// development routing table: /api2/members to localhost:8081 and /api/auth
// to localhost:8080, both rewriting the Host header.
package config
