package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// MediaTool covers the local media operations assembly needs. It is an
// interface so the engine can be exercised without ffmpeg installed.
type MediaTool interface {
	// Probe returns the duration of a media file in seconds.
	Probe(ctx context.Context, path string) (float64, error)
	// NormalizeSegment produces one segment of exactly target seconds from a
	// clip and an optional narration file, padding the shorter stream
	// (video hold, audio silence) instead of truncating either.
	NormalizeSegment(ctx context.Context, clipPath, audioPath string, target float64, outPath string) error
	// Placeholder renders a black hold segment with silent audio.
	Placeholder(ctx context.Context, seconds float64, outPath string) error
	// Concat joins segments gap-free in the given order.
	Concat(ctx context.Context, segmentPaths []string, outPath string) error
}

type ffmpegTool struct{}

func NewFFmpegTool() MediaTool {
	return ffmpegTool{}
}

func runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", append([]string{"-y"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > 600 {
			tail = tail[len(tail)-600:]
		}
		return fmt.Errorf("ffmpeg error: %v: %s", err, tail)
	}
	return nil
}

func (ffmpegTool) Probe(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration of %s: %w", path, err)
	}
	return d, nil
}

func (ffmpegTool) NormalizeSegment(ctx context.Context, clipPath, audioPath string, target float64, outPath string) error {
	dur := fmt.Sprintf("%.3f", target)
	if audioPath == "" {
		// No narration: hold the last frame out to target and lay down
		// silence so every segment carries a uniform audio track.
		return runFFmpeg(ctx,
			"-i", clipPath,
			"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
			"-vf", "tpad=stop_mode=clone:stop_duration="+dur,
			"-map", "0:v", "-map", "1:a",
			"-t", dur,
			"-c:v", "libx264", "-pix_fmt", "yuv420p",
			"-c:a", "aac",
			outPath,
		)
	}
	return runFFmpeg(ctx,
		"-i", clipPath,
		"-i", audioPath,
		"-filter_complex",
		"[0:v]tpad=stop_mode=clone:stop_duration="+dur+"[v];[1:a]apad[a]",
		"-map", "[v]", "-map", "[a]",
		"-t", dur,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		outPath,
	)
}

func (ffmpegTool) Placeholder(ctx context.Context, seconds float64, outPath string) error {
	dur := fmt.Sprintf("%.3f", seconds)
	return runFFmpeg(ctx,
		"-f", "lavfi", "-i", "color=c=black:s=1280x720:d="+dur,
		"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", dur,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		outPath,
	)
}

func (ffmpegTool) Concat(ctx context.Context, segmentPaths []string, outPath string) error {
	listFile := filepath.Join(filepath.Dir(outPath), "segments_concat.txt")
	var lines []string
	for _, p := range segmentPaths {
		lines = append(lines, fmt.Sprintf("file '%s'", p))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return err
	}
	// Segments share codec settings from NormalizeSegment, so the concat
	// demuxer can stream-copy without introducing gaps.
	return runFFmpeg(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		outPath,
	)
}
