package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
)

// Transcoder shells out to an ffmpeg binary.
type Transcoder struct {
	Path string
}

func New(path string) *Transcoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &Transcoder{Path: path}
}

// ToJPEG decodes the first frame of an image container ffmpeg understands
// (HEIC/HEIF included) and re-encodes it as a high quality JPEG.
func (t *Transcoder) ToJPEG(ctx context.Context, raw []byte) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "transcode-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir failed: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	in := filepath.Join(tmpDir, "input")
	out := filepath.Join(tmpDir, "output.jpg")
	if err := os.WriteFile(in, raw, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	args := []string{
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	}

	zap.L().Debug("ffmpeg: transcoding", zap.Strings("args", args))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg error: %w, output: %s", err, stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return data, nil
}
