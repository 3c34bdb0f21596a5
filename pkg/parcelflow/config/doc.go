/*
Package config loads parcelflow run settings.

# Overview

Config wraps a map[string]any and provides typed accessors that return a
default when a key is missing or has the wrong type. Settings is the typed
view the command and the ingestion engine consume.

# File Layout

	capacity: 100          # omit or -1 for unbounded
	dedup: exact           # exact | package
	log_level: info
	queue_size: 1024
	listen: ":7070"
	idle_timeout: 5m
	ledger:
	  backend: sqlite      # memory | sqlite | redis
	  sqlite_path: parcelflow.db
	  redis_addr: localhost:6379
	  redis_prefix: parcelflow
	preferences:
	  backend: memory      # memory | sqlite
	observability:
	  metrics: true
	  tracing: false

Load a file and resolve settings:

	cfg, err := config.FromFile("parcelflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	settings := config.SettingsFrom(cfg)
	settings.ApplyEnv(os.LookupEnv)
	if err := settings.Validate(); err != nil {
	    log.Fatal(err)
	}

# Environment

ApplyEnv overrides file values with PARCELFLOW_* variables, for example
PARCELFLOW_CAPACITY, PARCELFLOW_DEDUP, PARCELFLOW_LEDGER and
PARCELFLOW_REDIS_ADDR. See the Env* constants for the full list.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
