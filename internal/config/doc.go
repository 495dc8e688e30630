// Package config handles configuration loading for coven-sso.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package fills defaults and validates the result.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_SSO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/sso.yaml
//  3. ~/.config/coven/sso.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	bot:
//	  app_password: "${COVEN_SSO_APP_PASSWORD}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:3978"   # Bot Framework messaging endpoint
//
// Bot registration and SSO prompt:
//
//	bot:
//	  app_id: "${MICROSOFT_APP_ID}"
//	  app_password: "${MICROSOFT_APP_PASSWORD}"
//	  tenant_id: "${MICROSOFT_APP_TENANT_ID}"
//	  authority_host: "https://login.microsoftonline.com"
//	  application_id_uri: "api://bot.example.com/${MICROSOFT_APP_ID}"
//	  initiate_login_endpoint: "https://bot.example.com/auth-start.html"
//	  scopes: ["User.Read"]
//	  end_on_invalid_message: true
//	  prompt_timeout: "15m"
//
// Storage for dedup entries and dialog state:
//
//	storage:
//	  driver: "sqlite"          # memory, sqlite, postgres
//	  path: "/var/lib/coven/sso.db"
//	  dsn: "${COVEN_SSO_PG_DSN}"
//	  dedup_ttl: "1h"           # sweep entries from dialogs that never ended
//
// Microsoft Graph:
//
//	graph:
//	  base_url: "https://graph.microsoft.com"
//	  scopes: ["User.Read"]
//
// Rate limiting per conversation:
//
//	rate_limit:
//	  enabled: true
//	  requests_per_second: 5
//	  burst: 10
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-sso"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: true
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
