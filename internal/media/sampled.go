package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// SampledFramePrefix names frames written by SampledFrames.
const SampledFramePrefix = "frame_av_"

const (
	defaultFPS           = 25.0
	sampleEverySeconds   = 3
	defaultSampledFrames = 9
	jpegQuality          = 90
)

var errSamplingDone = errors.New("media: sampling done")

// SampledOptions configures SampledFrames.
type SampledOptions struct {
	FFmpegPath  string
	FFprobePath string
	MaxFrames   int
	Timeout     time.Duration
	TailChars   int
}

// SampledFrames decodes the video to raw RGB frames and keeps the first
// frame plus one every three seconds, encoding the JPEGs itself. It does not
// depend on ffmpeg's image encoders or scene detection.
type SampledFrames struct {
	opts SampledOptions
	exec runner.Executor
}

// NewSampledFrames creates the fallback frame extractor.
func NewSampledFrames(opts SampledOptions, exec runner.Executor) *SampledFrames {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = defaultSampledFrames
	}
	return &SampledFrames{opts: opts, exec: exec}
}

// Name returns "sampled".
func (s *SampledFrames) Name() string { return "sampled" }

// StreamInfo is the probed geometry and frame rate of a video stream.
type StreamInfo struct {
	Width  int
	Height int
	FPS    float64
}

// Interval is the number of frames between samples.
func (i StreamInfo) Interval() int {
	return max(1, int(i.FPS*sampleEverySeconds))
}

// ParseProbe reads ffprobe JSON output for the first video stream. A
// missing or zero frame rate defaults to 25 fps.
func ParseProbe(data []byte) (StreamInfo, error) {
	if !gjson.ValidBytes(data) {
		return StreamInfo{}, eris.New("media: ffprobe output is not valid json")
	}
	stream := gjson.GetBytes(data, "streams.0")
	info := StreamInfo{
		Width:  int(stream.Get("width").Int()),
		Height: int(stream.Get("height").Int()),
		FPS:    parseRate(stream.Get("avg_frame_rate").String()),
	}
	if info.FPS <= 0 {
		info.FPS = parseRate(stream.Get("r_frame_rate").String())
	}
	if info.FPS <= 0 {
		info.FPS = defaultFPS
	}
	if info.Width <= 0 || info.Height <= 0 {
		return info, eris.New("media: no video stream dimensions")
	}
	return info, nil
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// ExtractFrames probes the stream and samples frames from decoded output.
func (s *SampledFrames) ExtractFrames(ctx context.Context, videoPath, frameDir string) ([]string, []model.LogEntry) {
	var logs []model.LogEntry

	probe := runner.Command{
		Name: s.opts.FFprobePath,
		Args: []string{
			"-v", "error",
			"-select_streams", "v:0",
			"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate",
			"-of", "json",
			videoPath,
		},
		Timeout: s.opts.Timeout,
	}
	res := s.exec.Run(ctx, probe)
	logs = append(logs, commandLog("probe", s.Name(), probe, res, s.opts.TailChars))
	if !res.OK() {
		return nil, logs
	}
	info, err := ParseProbe([]byte(res.Stdout))
	if err != nil {
		logs = append(logs, model.LogEntry{Step: "probe", Engine: s.Name(), Error: err.Error()})
		return nil, logs
	}

	sampler := newFrameSampler(info, frameDir, s.opts.MaxFrames)
	decode := runner.Command{
		Name: s.opts.FFmpegPath,
		Args: []string{
			"-v", "error",
			"-i", videoPath,
			"-map", "0:v:0",
			"-f", "rawvideo",
			"-pix_fmt", "rgb24",
			"pipe:1",
		},
		Timeout: s.opts.Timeout,
		Stdout:  sampler,
	}
	res = s.exec.Run(ctx, decode)
	entry := commandLog("sampled_frames", s.Name(), decode, res, s.opts.TailChars)
	entry.Message = fmt.Sprintf("saved %d frames every %d frames", len(sampler.saved), info.Interval())
	if sampler.err != nil && !errors.Is(sampler.err, errSamplingDone) {
		entry.Error = sampler.err.Error()
	}
	logs = append(logs, entry)
	return sampler.saved, logs
}

// frameSampler receives a raw rgb24 stream and writes sampled frames as
// JPEG files. It stops accepting input once enough frames are saved.
type frameSampler struct {
	info     StreamInfo
	dir      string
	max      int
	interval int

	frameSize int
	buf       []byte
	index     int
	saved     []string
	err       error
}

func newFrameSampler(info StreamInfo, dir string, maxFrames int) *frameSampler {
	size := info.Width * info.Height * 3
	return &frameSampler{
		info:      info,
		dir:       dir,
		max:       maxFrames,
		interval:  info.Interval(),
		frameSize: size,
		buf:       make([]byte, 0, size),
	}
}

func (f *frameSampler) Write(p []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := len(p)
	for len(p) > 0 {
		take := min(f.frameSize-len(f.buf), len(p))
		f.buf = append(f.buf, p[:take]...)
		p = p[take:]
		if len(f.buf) < f.frameSize {
			break
		}
		if f.index == 0 || f.index%f.interval == 0 {
			if err := f.save(); err != nil {
				f.err = err
				return n - len(p), err
			}
			if len(f.saved) >= f.max {
				f.err = errSamplingDone
				return n - len(p), f.err
			}
		}
		f.index++
		f.buf = f.buf[:0]
	}
	return n, nil
}

func (f *frameSampler) save() error {
	img := image.NewRGBA(image.Rect(0, 0, f.info.Width, f.info.Height))
	for i, j := 0, 0; i < len(f.buf); i, j = i+3, j+4 {
		img.Pix[j] = f.buf[i]
		img.Pix[j+1] = f.buf[i+1]
		img.Pix[j+2] = f.buf[i+2]
		img.Pix[j+3] = 0xff
	}

	path := filepath.Join(f.dir, fmt.Sprintf("%s%03d.jpg", SampledFramePrefix, len(f.saved)))
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "media: create frame %s", path)
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "media: encode frame %s", path)
	}
	if err := out.Close(); err != nil {
		return eris.Wrapf(err, "media: close frame %s", path)
	}
	f.saved = append(f.saved, path)
	return nil
}
