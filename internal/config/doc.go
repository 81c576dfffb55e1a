// Package config loads, normalizes, and validates decklens configuration data.
//
// It supplies repository defaults (including the resolution-aware confidence
// bands), expands user paths, reads TOML files, and honours environment
// fallbacks such as DECKLENS_REDIS_URL. Validation happens once at load time;
// every rejected value is reported as an error wrapping
// services.ErrConfiguration so misconfiguration never surfaces mid-job.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, complete band tables, and clear validation errors.
package config
