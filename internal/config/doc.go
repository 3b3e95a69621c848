package config

// Package config loads and persists server settings from a YAML file.
// Settings are forgiving: a missing file or out-of-range value falls
// back to defaults instead of failing startup, and runtime changes (the
// concurrency limit) are written back through Save.
