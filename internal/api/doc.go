// Package api is the programmatic surface of decklens. Service wires storage,
// recognition, resolution, the fallback breakers and retention from a single
// configuration and exposes job submission, status, token resolution,
// retention sweeps and breaker diagnostics.
//
// # Key Types
//
// Service: owns every runtime component built from config.Config.
//
// ScanRequest: one image plus optional preprocessed variants.
//
// JobView: transport representation of a job with its decoded result.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Job results are decoded from their stored JSON so callers never see raw
// storage records.
package api
