package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rotisserie/eris"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/runner"
)

// Output format shared by every audio extractor.
const (
	SampleRate = 16000
	BitDepth   = 16
	Channels   = 1

	wavPCMFormat = 1
)

// PCMAudio decodes the audio track to raw signed 16-bit samples and writes
// the WAV container itself.
type PCMAudio struct {
	ffmpeg  string
	exec    runner.Executor
	timeout time.Duration
	tail    int
}

// NewPCMAudio creates the fallback audio extractor.
func NewPCMAudio(ffmpegPath string, exec runner.Executor, timeout time.Duration, tail int) *PCMAudio {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &PCMAudio{ffmpeg: ffmpegPath, exec: exec, timeout: timeout, tail: tail}
}

// Name returns "pcm".
func (p *PCMAudio) Name() string { return "pcm" }

// ExtractAudio streams s16le samples into a WAV encoder at audioPath.
func (p *PCMAudio) ExtractAudio(ctx context.Context, videoPath, audioPath string) model.LogEntry {
	out, err := os.Create(audioPath)
	if err != nil {
		return model.LogEntry{Step: "pcm_audio", Engine: p.Name(), Error: err.Error()}
	}
	defer out.Close() //nolint:errcheck

	w := NewPCMWriter(wav.NewEncoder(out, SampleRate, BitDepth, Channels, wavPCMFormat))
	cmd := runner.Command{
		Name: p.ffmpeg,
		Args: []string{
			"-v", "error",
			"-i", videoPath,
			"-vn",
			"-f", "s16le",
			"-acodec", "pcm_s16le",
			"-ac", fmt.Sprint(Channels),
			"-ar", fmt.Sprint(SampleRate),
			"pipe:1",
		},
		Timeout: p.timeout,
		Stdout:  w,
	}
	res := p.exec.Run(ctx, cmd)
	entry := commandLog("pcm_audio", p.Name(), cmd, res, p.tail)

	if err := w.Close(); err != nil {
		entry.Error = err.Error()
		return entry
	}
	entry.Message = fmt.Sprintf("wrote %d samples", w.Samples())
	if w.Samples() == 0 {
		// A header-only file would look like extracted audio to later runs.
		_ = out.Close()
		_ = os.Remove(audioPath)
		entry.Message = "no audio samples decoded"
	}
	return entry
}

// PCMWriter converts a little-endian s16 byte stream into WAV frames.
type PCMWriter struct {
	enc     *wav.Encoder
	carry   []byte
	samples int
	buf     *audio.IntBuffer
}

// NewPCMWriter wraps a WAV encoder.
func NewPCMWriter(enc *wav.Encoder) *PCMWriter {
	return &PCMWriter{
		enc: enc,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
			SourceBitDepth: BitDepth,
		},
	}
}

// Write encodes every complete sample in p; an odd trailing byte is kept for
// the next call.
func (w *PCMWriter) Write(p []byte) (int, error) {
	data := p
	if len(w.carry) > 0 {
		data = append(w.carry, p...)
		w.carry = nil
	}
	n := len(data) / 2
	if n > 0 {
		ints := make([]int, n)
		for i := range n {
			ints[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
		}
		w.buf.Data = ints
		if err := w.enc.Write(w.buf); err != nil {
			return 0, eris.Wrap(err, "media: write wav samples")
		}
		w.samples += n
	}
	if len(data)%2 == 1 {
		w.carry = []byte{data[len(data)-1]}
	}
	return len(p), nil
}

// Samples returns the number of samples written.
func (w *PCMWriter) Samples() int { return w.samples }

// Close finalises the WAV header.
func (w *PCMWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return eris.Wrap(err, "media: close wav encoder")
	}
	return nil
}
