// Package config handles configuration loading for mealdesk-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion.
// Unset fields receive defaults before validation.
//
// # Configuration File
//
// DefaultPath resolves, in order:
//
//  1. Path from MEALDESK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mealdesk/gateway.yaml (or ~/.config/mealdesk/gateway.yaml)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MEALDESK_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  addr: "0.0.0.0:8080"
//
//	database:
//	  driver: "sqlite"            # sqlite, redis
//	  path: "/var/lib/mealdesk/chat.db"
//	  redis_url: "redis://localhost:6379/0"
//	  history_limit: 100
//
//	auth:
//	  jwt_secret: "${MEALDESK_JWT_SECRET}"   # at least 32 bytes
//
//	realtime:
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "90s"
//	  subscribe_timeout: "10s"
//	  write_timeout: "10s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Duration values use Go's time.ParseDuration syntax.
package config
