package store

// Package store holds the authoritative job registry. It owns every Job
// lifecycle mutation and the version counter that capability tokens bind
// to; other packages only read snapshots or mutate through its methods.
