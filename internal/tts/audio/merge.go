package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

const (
	pcmAudioFormat = 1
	// Unsigned 8-bit PCM is centred on 128.
	silence8Bit = 128
)

const (
	errFmtOpenInput     = "failed to open %s: %w"
	errFmtDecodeInput   = "failed to decode %s: %w"
	errFmtMismatch      = "%w: %s is %s, expected %s"
	errFmtCreateOutput  = "failed to create %s: %w"
	errFmtEncodeOutput  = "failed to encode %s: %w"
	logFmtSkippingInput = "Skipping missing merge input: %s"
	logFmtMerged        = "Merged %d files into %s (%d samples)"
)

// Merge errors.
var (
	ErrNoMergeInputs   = errors.New("no merge inputs found")
	ErrNotWAV          = errors.New("not a valid wav file")
	ErrUnsupportedWAV  = errors.New("only uncompressed pcm wav is supported")
	ErrFormatMismatch  = errors.New("merge inputs have different formats")
	ErrEmptyPCMPayload = errors.New("wav has no pcm data")
)

// pcmLayout identifies the sample layout a merged stream must share.
type pcmLayout struct {
	sampleRate int
	channels   int
	bitDepth   int
}

func (l pcmLayout) String() string {
	return fmt.Sprintf("%d Hz/%d ch/%d bit", l.sampleRate, l.channels, l.bitDepth)
}

// WAVConcatenator joins PCM WAV files in process.
type WAVConcatenator struct {
	fs  afero.Fs
	log *logger.Logger
}

// NewWAVConcatenator returns a concatenator that reads and writes through fs.
func NewWAVConcatenator(fs afero.Fs, log *logger.Logger) *WAVConcatenator {
	return &WAVConcatenator{fs: fs, log: log}
}

// Concatenate decodes inputs in order, inserts gap worth of silence between
// consecutive pieces, and writes one PCM WAV to output. Missing inputs are
// skipped; every present input must share one sample layout.
func (c *WAVConcatenator) Concatenate(
	ctx context.Context,
	inputs []string,
	output string,
	gap time.Duration,
) error {
	var (
		merged *audio.IntBuffer
		layout pcmLayout
		pieces int
	)

	for _, path := range inputs {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		exists, existsErr := afero.Exists(c.fs, path)
		if existsErr != nil {
			return fmt.Errorf(errFmtOpenInput, path, existsErr)
		}

		if !exists {
			c.log.Warn(logFmtSkippingInput, path)

			continue
		}

		buffer, pieceLayout, decodeErr := c.decode(path)
		if decodeErr != nil {
			return decodeErr
		}

		if merged == nil {
			layout = pieceLayout
			merged = &audio.IntBuffer{
				Format: &audio.Format{
					NumChannels: layout.channels,
					SampleRate:  layout.sampleRate,
				},
				SourceBitDepth: layout.bitDepth,
			}
		} else {
			if pieceLayout != layout {
				return fmt.Errorf(errFmtMismatch, ErrFormatMismatch, path, pieceLayout, layout)
			}

			merged.Data = append(merged.Data, silence(layout, gap)...)
		}

		merged.Data = append(merged.Data, buffer.Data...)
		pieces++
	}

	if merged == nil {
		return ErrNoMergeInputs
	}

	err := c.encode(output, merged, layout)
	if err != nil {
		return err
	}

	c.log.Info(logFmtMerged, pieces, output, len(merged.Data))

	return nil
}

func (c *WAVConcatenator) decode(path string) (*audio.IntBuffer, pcmLayout, error) {
	file, err := c.fs.Open(path)
	if err != nil {
		return nil, pcmLayout{}, fmt.Errorf(errFmtOpenInput, path, err)
	}

	defer func() { _ = file.Close() }()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, pcmLayout{}, fmt.Errorf(errFmtDecodeInput, path, ErrNotWAV)
	}

	if decoder.WavAudioFormat != pcmAudioFormat {
		return nil, pcmLayout{}, fmt.Errorf(errFmtDecodeInput, path, ErrUnsupportedWAV)
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, pcmLayout{}, fmt.Errorf(errFmtDecodeInput, path, err)
	}

	if buffer == nil {
		return nil, pcmLayout{}, fmt.Errorf(errFmtDecodeInput, path, ErrEmptyPCMPayload)
	}

	layout := pcmLayout{
		sampleRate: int(decoder.SampleRate),
		channels:   int(decoder.NumChans),
		bitDepth:   int(decoder.BitDepth),
	}

	return buffer, layout, nil
}

func (c *WAVConcatenator) encode(output string, merged *audio.IntBuffer, layout pcmLayout) error {
	file, err := c.fs.Create(output)
	if err != nil {
		return fmt.Errorf(errFmtCreateOutput, output, err)
	}

	encoder := wav.NewEncoder(file, layout.sampleRate, layout.bitDepth, layout.channels, pcmAudioFormat)

	err = encoder.Write(merged)
	if err == nil {
		err = encoder.Close()
	}

	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		_ = c.fs.Remove(output)

		return fmt.Errorf(errFmtEncodeOutput, output, err)
	}

	return nil
}

// silence returns gap worth of interleaved silent samples for layout.
func silence(layout pcmLayout, gap time.Duration) []int {
	if gap <= 0 {
		return nil
	}

	frames := int(int64(gap) * int64(layout.sampleRate) / int64(time.Second))
	samples := make([]int, frames*layout.channels)

	if layout.bitDepth == BitDepth8 {
		for i := range samples {
			samples[i] = silence8Bit
		}
	}

	return samples
}
