package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/scheduler"
)

const (
	// ProgressInterval throttles how often yt-dlp progress callbacks fire
	ProgressInterval = 500 * time.Millisecond

	// OutputTemplate names downloaded files after the media title
	OutputTemplate = "%(title)s.%(ext)s"

	updateBuffer = 64
)

// FetchRunner executes fetch jobs by driving yt-dlp. Cancellation goes
// through the per-job context, which terminates the underlying process.
type FetchRunner struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	downloadDir   string
	proxyURL      string
	limitRateKbps int
}

// NewFetchRunner creates a fetch runner writing artifacts into downloadDir.
// proxyURL and limitRateKbps are optional; zero values disable them.
func NewFetchRunner(downloadDir, proxyURL string, limitRateKbps int) *FetchRunner {
	return &FetchRunner{
		cancels:       make(map[string]context.CancelFunc),
		downloadDir:   downloadDir,
		proxyURL:      proxyURL,
		limitRateKbps: limitRateKbps,
	}
}

// Start launches the download in the background and returns its update
// channel. The final update carries the artifact path or the exit error;
// a download that produced no artifact is reported as failed.
func (r *FetchRunner) Start(job model.Job) (<-chan scheduler.Update, error) {
	if job.Kind != model.KindFetch {
		return nil, fmt.Errorf("fetch runner: cannot run %s job %s", job.Kind, job.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[job.ID] = cancel
	r.mu.Unlock()

	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		Output(r.downloadDir + "/" + OutputTemplate)
	if r.proxyURL != "" {
		dl = dl.Proxy(r.proxyURL)
	}
	if r.limitRateKbps > 0 {
		dl = dl.LimitRate(fmt.Sprintf("%dK", r.limitRateKbps))
	}

	updates := make(chan scheduler.Update, updateBuffer)

	dl.ProgressFunc(ProgressInterval, func(up ytdlp.ProgressUpdate) {
		select {
		case updates <- fetchUpdate(&up):
		default:
			// Progress is advisory; drop rather than stall yt-dlp.
		}
	})

	go func() {
		defer close(updates)
		defer r.forget(job.ID)
		defer cancel()

		result, err := dl.Run(ctx, job.URL)

		final := scheduler.Update{Terminal: true}
		switch {
		case ctx.Err() == context.Canceled:
			final.Err = fmt.Errorf("fetch %s: canceled", job.ID)
		case err != nil:
			final.Err = fmt.Errorf("fetch %s: %w", job.ID, err)
		default:
			final.ArtifactPath = artifactPath(result)
			if final.ArtifactPath == "" {
				final.Err = fmt.Errorf("fetch %s: no artifact produced", job.ID)
			}
		}
		updates <- final
	}()

	return updates, nil
}

// Stop cancels the job's download context. Canceling terminates the
// yt-dlp process; an unknown or already-finished job id is a no-op.
func (r *FetchRunner) Stop(jobID string) {
	r.mu.Lock()
	cancel, exists := r.cancels[jobID]
	r.mu.Unlock()
	if exists {
		cancel()
	}
}

func (r *FetchRunner) forget(jobID string) {
	r.mu.Lock()
	delete(r.cancels, jobID)
	r.mu.Unlock()
}

// fetchUpdate converts a yt-dlp progress callback into a scheduler update
func fetchUpdate(up *ytdlp.ProgressUpdate) scheduler.Update {
	out := scheduler.Update{ETASec: -1}

	if up.TotalBytes > 0 {
		percent := float64(up.DownloadedBytes) / float64(up.TotalBytes) * 100
		out.Percent = int(percent)
		out.Progress = percent / 100.0
	}

	if !up.Started.IsZero() {
		out.Speed = speedString(int64(up.DownloadedBytes), time.Since(up.Started))
	}

	if eta := up.ETA(); eta > 0 {
		out.ETASec = int(eta.Seconds())
	}

	if up.Info != nil && up.Info.Title != nil {
		out.Title = *up.Info.Title
	}

	return out
}

// speedString formats average throughput for the progress stream,
// e.g. "1.2MB/s". Sub-megabyte rates switch to KB/s so slow links do
// not all read "0.0MB/s".
func speedString(downloadedBytes int64, elapsed time.Duration) string {
	if elapsed.Seconds() <= 0 {
		return ""
	}
	bytesPerSecond := float64(downloadedBytes) / elapsed.Seconds()
	if bytesPerSecond < 1024*1024 {
		return fmt.Sprintf("%.1fKB/s", bytesPerSecond/1024)
	}
	return fmt.Sprintf("%.1fMB/s", bytesPerSecond/1024/1024)
}

// artifactPath extracts the first downloaded filename from a yt-dlp result
func artifactPath(result *ytdlp.Result) string {
	if result == nil {
		return ""
	}
	info, err := result.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return ""
	}
	if info[0].Filename == nil {
		return ""
	}
	return *info[0].Filename
}
