package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/scheduler"
)

// FFmpeg constants for transcode settings
const (
	VideoCodec  = "libx264"
	VideoPreset = "medium"
	VideoCRF    = "23"

	AudioCodec   = "aac"
	AudioBitrate = "128k"

	FastStartFlag = "+faststart"

	FFmpegCommand       = "ffmpeg"
	FFprobeCommand      = "ffprobe"
	FFprobeLogLevel     = "error"
	FFprobeShowEntries  = "format=duration"
	FFprobeOutputFormat = "csv=p=0"
	ProgressPipeTarget  = "pipe:2"
	ProgressTimePrefix  = "out_time_us="

	TranscodedSuffix   = "-transcoded"
	OutputExtensionMP4 = ".mp4"

	// DefaultStopGrace is how long Stop waits for ffmpeg to honor SIGTERM
	// before escalating to SIGKILL
	DefaultStopGrace = 5 * time.Second
)

type transcodeProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// TranscodeRunner executes transcode jobs by re-encoding a local file
// with ffmpeg. Stop first sends SIGTERM and force-kills after a grace
// period if the process ignores it.
type TranscodeRunner struct {
	mu    sync.Mutex
	procs map[string]*transcodeProc
	grace time.Duration
}

// NewTranscodeRunner creates a transcode runner with the given stop grace
// period; zero means DefaultStopGrace
func NewTranscodeRunner(grace time.Duration) *TranscodeRunner {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	return &TranscodeRunner{
		procs: make(map[string]*transcodeProc),
		grace: grace,
	}
}

// Start probes the input duration, launches ffmpeg, and returns the
// update channel. Probe and launch failures are synchronous errors; the
// scheduler finalizes the job as failed without a channel ever existing.
func (r *TranscodeRunner) Start(job model.Job) (<-chan scheduler.Update, error) {
	if job.Kind != model.KindTranscode {
		return nil, fmt.Errorf("transcode runner: cannot run %s job %s", job.Kind, job.ID)
	}
	if _, err := os.Stat(job.InputPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("transcode %s: input file does not exist: %s", job.ID, job.InputPath)
	}

	totalDuration, err := probeDuration(job.InputPath)
	if err != nil {
		return nil, fmt.Errorf("transcode %s: %w", job.ID, err)
	}

	outputPath := transcodeOutputPath(job.InputPath)
	cmd := exec.Command(FFmpegCommand, BuildFFmpegArgs(job.InputPath, outputPath)...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("transcode %s: stderr pipe: %w", job.ID, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transcode %s: start ffmpeg: %w", job.ID, err)
	}

	proc := &transcodeProc{cmd: cmd, done: make(chan struct{})}
	r.mu.Lock()
	r.procs[job.ID] = proc
	r.mu.Unlock()

	updates := make(chan scheduler.Update, updateBuffer)
	parsed := make(chan struct{})

	go func() {
		defer close(parsed)
		monitorProgress(stderr, totalDuration, updates)
	}()

	go func() {
		defer close(updates)
		defer r.forget(job.ID)

		// Drain stderr fully before Wait closes the pipe.
		<-parsed
		waitErr := cmd.Wait()
		close(proc.done)

		final := scheduler.Update{Terminal: true}
		if waitErr != nil {
			os.Remove(outputPath)
			final.Err = fmt.Errorf("transcode %s: %w", job.ID, waitErr)
		} else {
			final.Progress = 1.0
			final.Percent = 100
			final.ArtifactPath = outputPath
		}
		updates <- final
	}()

	return updates, nil
}

// Stop asks the job's ffmpeg process to terminate. If it is still alive
// after the grace period it is force-killed; an already-exited process is
// tolerated either way.
func (r *TranscodeRunner) Stop(jobID string) {
	r.mu.Lock()
	proc, exists := r.procs[jobID]
	r.mu.Unlock()
	if !exists {
		return
	}

	_ = proc.cmd.Process.Signal(syscall.SIGTERM)

	go func() {
		select {
		case <-proc.done:
		case <-time.After(r.grace):
			_ = proc.cmd.Process.Kill()
		}
	}()
}

func (r *TranscodeRunner) forget(jobID string) {
	r.mu.Lock()
	delete(r.procs, jobID)
	r.mu.Unlock()
}

// monitorProgress parses ffmpeg -progress output and forwards fractional
// progress, dropping updates the consumer is too slow for
func monitorProgress(stderr io.ReadCloser, totalDuration float64, updates chan<- scheduler.Update) {
	defer stderr.Close()
	scanner := bufio.NewScanner(stderr)

	for scanner.Scan() {
		micros, ok := parseProgressLine(strings.TrimSpace(scanner.Text()))
		if !ok {
			continue
		}
		progress, ok := progressFraction(micros, totalDuration)
		if !ok {
			continue
		}
		select {
		case updates <- scheduler.Update{Progress: progress, Percent: int(progress * 100), ETASec: -1}:
		default:
		}
	}
}

// parseProgressLine extracts the out_time_us value from one ffmpeg
// progress line
func parseProgressLine(line string) (int64, bool) {
	if !strings.HasPrefix(line, ProgressTimePrefix) {
		return 0, false
	}
	micros, err := strconv.ParseInt(strings.TrimPrefix(line, ProgressTimePrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return micros, true
}

// progressFraction converts an elapsed-microseconds sample into a 0..1
// fraction of the total duration
func progressFraction(micros int64, totalDuration float64) (float64, bool) {
	if totalDuration <= 0 {
		return 0, false
	}
	progress := (float64(micros) / 1e6) / totalDuration
	if progress > 1.0 {
		progress = 1.0
	}
	return progress, true
}

// BuildFFmpegArgs builds the ffmpeg command arguments for a transcode
func BuildFFmpegArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-c:v", VideoCodec,
		"-preset", VideoPreset,
		"-crf", VideoCRF,
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
		"-movflags", FastStartFlag,
		"-progress", ProgressPipeTarget,
		"-nostats",
		outputPath,
	}
}

// probeDuration gets the duration of a media file in seconds using ffprobe
func probeDuration(filePath string) (float64, error) {
	cmd := exec.Command(FFprobeCommand, "-v", FFprobeLogLevel, "-show_entries", FFprobeShowEntries, "-of", FFprobeOutputFormat, filePath)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("run ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}

// transcodeOutputPath derives the output path for a transcoded file
func transcodeOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	baseName := strings.TrimSuffix(inputPath, ext)
	return baseName + TranscodedSuffix + OutputExtensionMP4
}
