// Package media pulls frames and audio out of video files with ffmpeg, and
// falls back to decoding raw streams in-process when ffmpeg's own encoders
// produce nothing usable.
package media

import (
	"context"
	"os"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// MinAudioBytes is the size of a bare WAV header. Audio files no larger
// than this hold no samples.
const MinAudioBytes = 44

// FrameExtractor writes representative frames of a video into a directory.
type FrameExtractor interface {
	Name() string
	ExtractFrames(ctx context.Context, videoPath, frameDir string) ([]string, []model.LogEntry)
}

// AudioExtractor writes the audio track of a video as mono 16 kHz WAV.
type AudioExtractor interface {
	Name() string
	ExtractAudio(ctx context.Context, videoPath, audioPath string) model.LogEntry
}

// Frames runs extractors in order and returns the first non-empty frame
// list with the logs of every extractor tried.
func Frames(ctx context.Context, extractors []FrameExtractor, videoPath, frameDir string) ([]string, []model.LogEntry) {
	var logs []model.LogEntry
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return nil, []model.LogEntry{{Step: "frames", Error: err.Error()}}
	}
	for _, e := range extractors {
		frames, l := e.ExtractFrames(ctx, videoPath, frameDir)
		logs = append(logs, l...)
		if len(frames) > 0 {
			return frames, logs
		}
	}
	return nil, logs
}

// Audio runs extractors in order until one leaves a valid audio file at
// audioPath. It reports whether any did.
func Audio(ctx context.Context, extractors []AudioExtractor, videoPath, audioPath string) (bool, []model.LogEntry) {
	var logs []model.LogEntry
	for _, e := range extractors {
		logs = append(logs, e.ExtractAudio(ctx, videoPath, audioPath))
		if ValidAudio(audioPath) {
			return true, logs
		}
	}
	return false, logs
}

// ValidAudio reports whether path holds more than a WAV header.
func ValidAudio(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > MinAudioBytes
}

// DecoderMissing reports whether logs record at least one tool run and
// every one of them failed because the executable was not found.
func DecoderMissing(logs []model.LogEntry) bool {
	ran := false
	for _, l := range logs {
		if l.ExitCode == nil {
			continue
		}
		if *l.ExitCode != runner.ExitNotFound {
			return false
		}
		ran = true
	}
	return ran
}

// commandLog summarises one tool run for the extraction log.
func commandLog(step, engine string, cmd runner.Command, res runner.Result, tail int) model.LogEntry {
	code := res.ExitCode
	return model.LogEntry{
		Step:     step,
		Engine:   engine,
		Command:  runner.Render(cmd.Argv()),
		ExitCode: &code,
		Stderr:   runner.Tail(res.Stderr, tail),
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
