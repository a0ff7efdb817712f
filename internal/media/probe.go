package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Info is what the bot needs to know about a media file before offering options.
type Info struct {
	Duration time.Duration
	Width    int
	Height   int
	Format   string
}

// Prober extracts media metadata from a URL.
type Prober interface {
	Probe(ctx context.Context, url string) (Info, error)
}

// ErrNoDuration is returned when the prober cannot determine a positive duration.
var ErrNoDuration = errors.New("media has no duration")

// FFProbe runs the ffprobe binary.
type FFProbe struct {
	// Path to the binary; empty means "ffprobe" from PATH.
	Path string
}

type ffprobeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (p FFProbe) Probe(ctx context.Context, url string) (Info, error) {
	bin := strings.TrimSpace(p.Path)
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration,format_name:stream=codec_type,width,height",
		url,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Info{}, fmt.Errorf("ffprobe: %w", err)
		}
		return Info{}, fmt.Errorf("ffprobe: %w: %s", err, truncate(msg, 300))
	}
	return parseFFProbe(stdout.Bytes())
}

func parseFFProbe(b []byte) (Info, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return Info{}, fmt.Errorf("ffprobe output: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || secs <= 0 {
		return Info{}, ErrNoDuration
	}
	info := Info{
		Duration: time.Duration(secs * float64(time.Second)),
		Format:   out.Format.FormatName,
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" && s.Width > 0 {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	return info, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
