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
)

// ErrNoVideoStream is returned when a probed file contains no video stream.
var ErrNoVideoStream = errors.New("no video stream in source")

// VideoInfo describes a probed video source.
type VideoInfo struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	BitRate  int64
	Format   string
}

// TranscodeOpts configures one transcode pass.
type TranscodeOpts struct {
	Width        int
	Height       int
	VideoBitrate string
	AudioBitrate string
	Preset       string
}

// FFmpeg wraps the ffmpeg and ffprobe CLIs. All operations work on local
// file paths because the tooling is file-based.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates an FFmpeg wrapper. Empty paths default to binaries found
// via PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// Probe extracts duration, primary video stream properties and container
// bitrate from a local file.
func (f *FFmpeg) Probe(ctx context.Context, path string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w, stderr: %s", path, err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := VideoInfo{Format: out.Format.FormatName}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
		if err != nil {
			return VideoInfo{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
		}
		info.Duration = d
	}
	if out.Format.BitRate != "" {
		info.BitRate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	}

	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			return info, nil
		}
	}
	return VideoInfo{}, ErrNoVideoStream
}

// ExtractFrame writes a single frame taken at atSeconds into dst, scaled to
// fit within maxW x maxH while keeping the aspect ratio.
func (f *FFmpeg) ExtractFrame(ctx context.Context, src, dst string, atSeconds float64, maxW, maxH int) error {
	if atSeconds < 0 {
		atSeconds = 0
	}
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", maxW, maxH)
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(atSeconds, 'f', 3, 64),
		"-i", src,
		"-frames:v", "1",
		"-vf", filter,
		dst,
	}
	return f.run(ctx, args)
}

// Transcode re-encodes src into an H.264/AAC MP4 at the requested dimensions
// and bitrates.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst string, opts TranscodeOpts) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("transcode: invalid target %dx%d", opts.Width, opts.Height)
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "128k"
	}
	if opts.Preset == "" {
		opts.Preset = "fast"
	}

	args := []string{
		"-y",
		"-i", src,
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"-c:v", "libx264",
		"-preset", opts.Preset,
		"-c:a", "aac",
		"-b:a", opts.AudioBitrate,
		"-movflags", "+faststart",
		"-f", "mp4",
	}
	if opts.VideoBitrate != "" {
		args = append(args, "-b:v", opts.VideoBitrate)
	}
	args = append(args, dst)
	return f.run(ctx, args)
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// FFmpegError carries the full invocation and stderr of a failed ffmpeg run.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
