package platform

// Package platform holds filesystem helpers (download directory,
// artifact cleanup) and the playlist expansion probe used to fan a
// playlist URL out into individual fetch jobs.
