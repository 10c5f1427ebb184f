// Package config loads the gateway configuration.
//
// Files are YAML unless the name ends in .toml. ${VAR} references are
// expanded from the environment before parsing, so secrets can stay out of
// the file:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  driver: sqlite
//	  path: ./sure.db
//	auth:
//	  contact_secret: "${SURE_CONTACT_SECRET}"
//	events:
//	  keep_alive: 25s
//	  max_lifetime: 30m
//	forwarding:
//	  timeout: 3s
//	  companions:
//	    - name: widget
//	      url: http://widget.internal:8080
//
// Durations are written as Go duration strings. Validate reports the
// first problem it finds.
package config
