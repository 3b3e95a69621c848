package progress

// Package progress implements the per-job broadcast hub. Each job gets a
// strictly increasing sequence of events, a bounded replay window for
// reconnecting subscribers, and per-subscriber bounded outboxes so one
// slow client can never backpressure the publisher.
