package runner

// Package runner implements the external execution side of jobs: a
// yt-dlp based fetch runner and an ffmpeg based transcode runner, plus a
// dispatcher keyed by job kind. Runners are opaque to the scheduler
// beyond the start/progress/exit contract and never touch scheduler
// state directly.
