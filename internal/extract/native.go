package extract

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// NativeStrategy downloads through the in-process youtube library. No
// external binary required, so it survives environments where yt-dlp is
// not installed.
type NativeStrategy struct{}

func NewNativeStrategy() *NativeStrategy { return &NativeStrategy{} }

func (s *NativeStrategy) Name() string { return "native" }

func (s *NativeStrategy) Attempt(ctx context.Context, url string, onProgress ProgressFunc) (io.ReadCloser, error) {
	client := youtube.Client{}

	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classifyNative(err)
	}

	format := findBestAudioFormat(video.Formats)
	if format == nil {
		return nil, errors.New("no audio-only format available")
	}

	stream, size, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, classifyNative(err)
	}
	if size <= 0 {
		size = format.ContentLength
	}

	return &countingReader{
		rc:         stream,
		total:      size,
		onProgress: onProgress,
	}, nil
}

// findBestAudioFormat prefers audio-only mp4 tracks, then any audio track
// with the highest bitrate.
func findBestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.Contains(f.MimeType, "audio") {
			continue
		}
		if best == nil {
			best = f
			continue
		}
		if strings.Contains(f.MimeType, "mp4") && !strings.Contains(best.MimeType, "mp4") {
			best = f
			continue
		}
		if f.Bitrate > best.Bitrate && strings.Contains(f.MimeType, "mp4") == strings.Contains(best.MimeType, "mp4") {
			best = f
		}
	}
	return best
}

func classifyNative(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "private"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "age restriction"),
		strings.Contains(msg, "login required"):
		return unavailable(err)
	default:
		return err
	}
}

// countingReader reports byte-accurate progress against the known
// content length.
type countingReader struct {
	rc         io.ReadCloser
	total      int64
	read       int64
	onProgress ProgressFunc
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.rc.Read(p)
	if n > 0 && cr.total > 0 && cr.onProgress != nil {
		cr.read += int64(n)
		pct := int(cr.read * 100 / cr.total)
		if pct > 99 {
			pct = 99
		}
		cr.onProgress(pct)
	}
	return n, err
}

func (cr *countingReader) Close() error {
	return cr.rc.Close()
}
