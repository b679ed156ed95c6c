package extract

import (
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/kkdai/youtube/v2"
)

const infoTimeout = 30 * time.Second

// SourceInfo is the metadata resolved for a source before download.
type SourceInfo struct {
	Title    string `json:"title"`
	Uploader string `json:"uploader"`
	Duration int    `json:"duration"`
}

// InfoResolver resolves source metadata best-effort: yt-dlp --dump-json
// first, the native library as fallback. Failures return a placeholder
// rather than an error; a missing title never blocks a job.
type InfoResolver struct {
	binary string
}

func NewInfoResolver(binary string) *InfoResolver {
	return &InfoResolver{binary: binary}
}

func (r *InfoResolver) Resolve(ctx context.Context, url string) SourceInfo {
	url = NormalizeURL(url)

	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	if info, ok := r.resolveExec(ctx, url); ok {
		return info
	}
	if info, ok := resolveNative(ctx, url); ok {
		return info
	}
	return SourceInfo{Title: "Unknown Title"}
}

func (r *InfoResolver) resolveExec(ctx context.Context, url string) (SourceInfo, bool) {
	if r.binary == "" {
		return SourceInfo{}, false
	}
	if _, err := exec.LookPath(r.binary); err != nil {
		return SourceInfo{}, false
	}

	cmd := exec.CommandContext(ctx, r.binary, "--dump-json", "--no-warnings", "--no-download", url)
	out, err := cmd.Output()
	if err != nil {
		return SourceInfo{}, false
	}

	var info SourceInfo
	if err := json.Unmarshal(out, &info); err != nil || info.Title == "" {
		return SourceInfo{}, false
	}
	info.Title = SanitizeFileName(info.Title)
	return info, true
}

func resolveNative(ctx context.Context, url string) (SourceInfo, bool) {
	client := youtube.Client{}
	video, err := client.GetVideoContext(ctx, url)
	if err != nil || video.Title == "" {
		return SourceInfo{}, false
	}
	return SourceInfo{
		Title:    SanitizeFileName(video.Title),
		Uploader: video.Author,
		Duration: int(video.Duration / time.Second),
	}, true
}
