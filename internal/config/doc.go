// Package config defines configuration for the splice CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (SPLICE_ prefix)
//   - YAML configuration file
//
// Flags win over the environment, which wins over the file. Byte sizes accept
// "1MiB" style (powers of 1024) and "1MB" style (powers of 1000) units.
//
// # Example file
//
//	workers: 8
//	buffer_size: 4MiB
//	from: ";"
//	to: ":"
//	compression: lz4
//	log:
//	  level: debug
//	  format: json
//	retry:
//	  attempts: 5
//	  backoff: 1s
//	  max_backoff: 30s
package config
