package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFmpegTranscoder shells out to the ffmpeg binary.
type FFmpegTranscoder struct {
	// Path to the ffmpeg binary; "ffmpeg" when empty.
	Path string
}

// Transcode writes src as 16 kHz mono 16-bit WAV to dst, overwriting it.
func (t FFmpegTranscoder) Transcode(ctx context.Context, src, dst string) error {
	bin := t.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-nostdin", "-y", "-loglevel", "error",
		"-i", src,
		"-ac", "1", "-ar", "16000", "-acodec", "pcm_s16le",
		"-f", "wav", dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg transcode: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg transcode: %w", err)
	}
	return nil
}
