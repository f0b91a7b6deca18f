// Package domain defines the core domain types for the flowatlas topology
// classification engine.
//
// This package contains the fundamental entities and value objects of the
// system: flow records, security zones, dependencies, topology records,
// predictions, and input-file identities.
//
// # Core Types
//
// FlowRecord is a single normalized network-flow observation for an
// application, produced by the external parsing collaborator.
//
// Zone is the closed set of security-tier labels an application can be
// assigned (WEB_TIER, APP_TIER, DATA_TIER, and so on).
//
// TopologyRecord is the canonical per-application classification result:
// zone label, dependency list, aggregate confidence, and characteristics.
// Records mutate monotonically; an observed dependency always supersedes a
// predicted one for the same target.
//
// Prediction is the transient output of a single predictor, consumed by the
// ensemble aggregator and never persisted.
//
// FileIdentity combines an application code with a content fingerprint so
// that a renamed-but-identical file is recognized as a duplicate and a
// same-named-but-changed file is reprocessed.
//
// # Design Principles
//
// - Immutable value objects where possible
// - No database or external dependencies
// - Pure domain logic without infrastructure concerns
// - Rich type system with meaningful constants and enumerations
package domain
