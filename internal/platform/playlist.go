package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"
)

// Timeout constants
const (
	DefaultProbeTimeout = 60 * time.Second
)

// URL parameters and separators
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

// URL templates
const (
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
)

// PlaylistItem is one video discovered inside a playlist
type PlaylistItem struct {
	VideoID string
	Title   string
	URL     string
}

// PlaylistProber expands playlist URLs into individual video entries so
// each can be submitted as its own fetch job
type PlaylistProber struct {
	timeout time.Duration
}

// NewPlaylistProber creates a prober with the default probe timeout
func NewPlaylistProber() *PlaylistProber {
	return &PlaylistProber{
		timeout: DefaultProbeTimeout,
	}
}

// SetTimeout sets the timeout for probe operations
func (p *PlaylistProber) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// Expand resolves a playlist URL into its video entries
func (p *PlaylistProber) Expand(ctx context.Context, url string) ([]PlaylistItem, error) {
	if !IsPlaylistURL(url) {
		return nil, fmt.Errorf("invalid playlist URL: %s", url)
	}

	playlistID := ExtractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}

	entries := make([]PlaylistItem, 0, len(items))
	for _, it := range items {
		entries = append(entries, PlaylistItem{
			VideoID: it.VideoID,
			Title:   it.Title,
			URL:     fmt.Sprintf(YouTubeVideoURLTemplate, it.VideoID),
		})
	}
	return entries, nil
}

// IsPlaylistURL checks if the URL looks like a YouTube playlist URL
func IsPlaylistURL(url string) bool {
	return strings.Contains(url, PlaylistParam)
}

// ExtractPlaylistID extracts the playlist ID from various URL formats
func ExtractPlaylistID(url string) string {
	if !strings.Contains(url, PlaylistParam) {
		return ""
	}
	parts := strings.Split(url, PlaylistParam)
	if len(parts) < 2 {
		return ""
	}
	playlistPart := parts[1]
	if strings.Contains(playlistPart, ParamSeparator) {
		playlistPart = strings.Split(playlistPart, ParamSeparator)[0]
	}
	return playlistPart
}
