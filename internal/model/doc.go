package model

// Package model defines domain data structures shared across the server:
// jobs, queue entries, status enums, and progress stream event names.
// Structures carry explicit state transitions owned by the store and
// scheduler; nothing here is mutated outside those packages.
