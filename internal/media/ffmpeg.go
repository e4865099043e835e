package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// Frame file names written by FFmpegFrames.
const (
	FirstFrameFile   = "frame_000_first.jpg"
	SceneFramePrefix = "frame_scene_"
)

// FFmpegOptions configures the ffmpeg-backed extractors.
type FFmpegOptions struct {
	FFmpegPath     string
	SceneThreshold float64
	MaxSceneFrames int
	Timeout        time.Duration
	TailChars      int
}

func (o FFmpegOptions) withDefaults() FFmpegOptions {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.SceneThreshold <= 0 {
		o.SceneThreshold = 0.35
	}
	if o.MaxSceneFrames <= 0 {
		o.MaxSceneFrames = 8
	}
	return o
}

// FFmpegFrames grabs the first frame plus scene-change frames.
type FFmpegFrames struct {
	opts FFmpegOptions
	exec runner.Executor
}

// NewFFmpegFrames creates the primary frame extractor.
func NewFFmpegFrames(opts FFmpegOptions, exec runner.Executor) *FFmpegFrames {
	return &FFmpegFrames{opts: opts.withDefaults(), exec: exec}
}

// Name returns "ffmpeg".
func (f *FFmpegFrames) Name() string { return "ffmpeg" }

// SceneFilter returns the select filter for the configured threshold.
func (f *FFmpegFrames) SceneFilter() string {
	return fmt.Sprintf(`select=gt(scene\,%g)`, f.opts.SceneThreshold)
}

// ExtractFrames writes frame_000_first.jpg and up to MaxSceneFrames
// frame_scene_NNN.jpg files. Both runs are attempted independently.
func (f *FFmpegFrames) ExtractFrames(ctx context.Context, videoPath, frameDir string) ([]string, []model.LogEntry) {
	var frames []string
	var logs []model.LogEntry

	first := filepath.Join(frameDir, FirstFrameFile)
	if err := clearFrames(first, filepath.Join(frameDir, SceneFramePrefix+"*.jpg")); err != nil {
		return nil, []model.LogEntry{{Step: "frames", Engine: f.Name(), Error: err.Error()}}
	}
	cmd := runner.Command{
		Name:    f.opts.FFmpegPath,
		Args:    []string{"-y", "-i", videoPath, "-ss", "0", "-frames:v", "1", first},
		Timeout: f.opts.Timeout,
	}
	res := f.exec.Run(ctx, cmd)
	logs = append(logs, commandLog("first_frame", f.Name(), cmd, res, f.opts.TailChars))
	if res.NotFound {
		return nil, logs
	}
	if fileExists(first) {
		frames = append(frames, first)
	}

	cmd = runner.Command{
		Name: f.opts.FFmpegPath,
		Args: []string{
			"-y", "-i", videoPath,
			"-vf", f.SceneFilter(),
			"-vsync", "vfr",
			"-frames:v", fmt.Sprint(f.opts.MaxSceneFrames),
			filepath.Join(frameDir, SceneFramePrefix+"%03d.jpg"),
		},
		Timeout: f.opts.Timeout,
	}
	res = f.exec.Run(ctx, cmd)
	logs = append(logs, commandLog("scene_frames", f.Name(), cmd, res, f.opts.TailChars))

	scenes, _ := filepath.Glob(filepath.Join(frameDir, SceneFramePrefix+"*.jpg"))
	sort.Strings(scenes)
	frames = append(frames, scenes...)
	return frames, logs
}

// clearFrames removes frames an earlier run left in the directory, so only
// files written by this run are returned.
func clearFrames(first, scenePattern string) error {
	stale, _ := filepath.Glob(scenePattern)
	for _, p := range append(stale, first) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "media: remove stale frame %s", p)
		}
	}
	return nil
}

// FFmpegAudio extracts mono 16 kHz audio with ffmpeg's own encoder.
type FFmpegAudio struct {
	opts FFmpegOptions
	exec runner.Executor
}

// NewFFmpegAudio creates the primary audio extractor.
func NewFFmpegAudio(opts FFmpegOptions, exec runner.Executor) *FFmpegAudio {
	return &FFmpegAudio{opts: opts.withDefaults(), exec: exec}
}

// Name returns "ffmpeg".
func (a *FFmpegAudio) Name() string { return "ffmpeg" }

// ExtractAudio runs `ffmpeg -y -i <video> -vn -ac 1 -ar 16000 <audio>`.
func (a *FFmpegAudio) ExtractAudio(ctx context.Context, videoPath, audioPath string) model.LogEntry {
	cmd := runner.Command{
		Name:    a.opts.FFmpegPath,
		Args:    []string{"-y", "-i", videoPath, "-vn", "-ac", "1", "-ar", "16000", audioPath},
		Timeout: a.opts.Timeout,
	}
	res := a.exec.Run(ctx, cmd)
	return commandLog("audio", a.Name(), cmd, res, a.opts.TailChars)
}
