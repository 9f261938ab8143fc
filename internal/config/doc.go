// Package config handles configuration loading for giftbox-chat.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from GIFTBOX_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/giftbox/chat.yaml
//  3. ~/.config/giftbox/chat.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
// GIFTBOX_DB_PATH overrides database.path.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${GIFTBOX_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # optional gRPC health service
//
//	database:
//	  driver: "sqlite"             # sqlite, mongo
//	  path: "/var/lib/giftbox/chat.db"
//	  mongo_uri: "mongodb://localhost:27017"
//	  mongo_database: "giftbox"
//
//	auth:
//	  jwt_secret: "${GIFTBOX_JWT_SECRET}"
//	  token_ttl: "24h"
//
//	chat:
//	  heartbeat_interval: "25s"    # "0s" disables heartbeats
//	  sse_retry: "10s"
//	  id_format: "uuid"            # uuid, objectid, opaque
//	  max_content_length: 4000
//	  idempotency_ttl: "5m"
//
//	ratelimit:
//	  messages_per_minute: 60      # negative disables
//	  typing_per_second: 5
//
//	relay:
//	  driver: "none"               # none, redis, nats
//	  redis_url: "redis://localhost:6379/0"
//	  nats_url: "nats://localhost:4222"
//	  channel: "giftbox.chat.events"
//
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
