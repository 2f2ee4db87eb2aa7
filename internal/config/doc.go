// Package config handles configuration loading for beacon-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BEACON_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/beacon/gateway.yaml
//  3. ~/.config/beacon/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	delivery:
//	  allowed_addresses: ["${BEACON_OWNER_ADDRESS}"]
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  timeout: "2m"
//	dedupe:
//	  ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # WebSocket clients and health endpoints
//
// Durable state:
//
//	store:
//	  sessions_path: "/var/lib/beacon/sessions.json"
//	  transcript_dir: "/var/lib/beacon/transcripts"
//
// Send policy:
//
//	send_policy:
//	  default: "allow"
//	  rules:
//	    - action: "deny"
//	      match:
//	        provider: "telegram"
//	        chat_type: "group"
//
// Delivery routing:
//
//	delivery:
//	  default_provider: "whatsapp"
//	  allowed_addresses: ["+15550001111"]
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
