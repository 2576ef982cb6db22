package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultWidth  = 1280
	defaultHeight = 720
	stderrTail    = 2048
)

// ErrNoVideoStream は入力に映像ストリームが無い場合のエラーです。
var ErrNoVideoStream = errors.New("no video stream found in the file")

// StreamInfo は最初の映像ストリームの解像度です。
type StreamInfo struct {
	Width  int
	Height int
}

// Prober は入力動画の情報を取得します。
type Prober interface {
	Probe(ctx context.Context, path string) (StreamInfo, error)
}

// Encoder は ffmpeg を引数付きで1回実行します。
type Encoder interface {
	Run(ctx context.Context, args []string) error
}

// FFprobe は ffprobe コマンドで Prober を実装します。
type FFprobe struct {
	Path string
}

func (p *FFprobe) Probe(ctx context.Context, path string) (StreamInfo, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin, "-v", "error", "-print_format", "json", "-show_streams", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return StreamInfo{}, fmt.Errorf("ffprobe failed: %w: %s", err, tail(stderr.String()))
	}
	return parseProbeOutput(stdout.Bytes())
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func parseProbeOutput(data []byte) (StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := StreamInfo{Width: s.Width, Height: s.Height}
		if info.Width <= 0 {
			info.Width = defaultWidth
		}
		if info.Height <= 0 {
			info.Height = defaultHeight
		}
		return info, nil
	}
	return StreamInfo{}, ErrNoVideoStream
}

// FFmpeg は ffmpeg コマンドで Encoder を実装します。Timeout は1回の実行ごとに適用されます。
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

func (f *FFmpeg) Run(ctx context.Context, args []string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String()))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}
