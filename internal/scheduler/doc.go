package scheduler

// Package scheduler implements job admission and lifecycle. The
// Scheduler owns the waiting queue and the running set and applies the
// global limit plus per-owner caps with a front-of-queue skip-over scan;
// the Finalizer is the only code path that moves a job to a terminal
// state. Runners are opaque: they take an admitted job and report back
// over a channel until exit.
