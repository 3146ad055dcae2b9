// Package audio handles the media types returned by speech services, wraps
// headerless PCM in WAV containers, and joins per-segment files into one
// artifact.
package audio

import (
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// Defaults applied when a media type omits its PCM parameters.
const (
	DefaultSampleRate = 24000
	DefaultBitDepth   = 16
	DefaultChannels   = 1
)

// Supported bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Quality validation limits.
const (
	MaxSampleRate = 192000
)

const (
	mimeWAV         = "audio/wav"
	mimeXWAV        = "audio/x-wav"
	mimeWave        = "audio/wave"
	mimeMPEG        = "audio/mpeg"
	mimePCM         = "audio/pcm"
	linearPCMPrefix = "audio/l"
	rateParam       = "rate="

	extWAV = ".wav"
	extMP3 = ".mp3"
)

const (
	errFmtSampleRateRange = "%w: sample rate %d must be between 1 and %d Hz"
	errFmtBitDepthValues  = "%w: bit depth %d must be 8, 16, 24, or 32"
)

// ErrInvalidQuality is returned for PCM parameters that cannot be encoded.
var ErrInvalidQuality = errors.New("invalid quality settings")

// Format is the parsed form of a declared audio media type.
type Format struct {
	MIMEType   string
	SampleRate int
	BitDepth   int
	// LinearPCM is true for headerless payloads that need a WAV header.
	LinearPCM bool
}

// ParseMediaType reads the sample rate and bit depth from a media type such
// as "audio/L16;codec=pcm;rate=24000". Parameters that are absent or do not
// parse keep their defaults.
func ParseMediaType(mimeType string) Format {
	format := Format{
		MIMEType:   strings.TrimSpace(mimeType),
		SampleRate: DefaultSampleRate,
		BitDepth:   DefaultBitDepth,
	}

	for _, param := range strings.Split(mimeType, ";") {
		param = strings.TrimSpace(param)
		lower := strings.ToLower(param)

		switch {
		case strings.HasPrefix(lower, rateParam):
			rate, err := strconv.Atoi(param[len(rateParam):])
			if err == nil {
				format.SampleRate = rate
			}
		case strings.HasPrefix(lower, linearPCMPrefix):
			format.LinearPCM = true

			bits, err := strconv.Atoi(param[len(linearPCMPrefix):])
			if err == nil {
				format.BitDepth = bits
			}
		case lower == mimePCM:
			format.LinearPCM = true
		}
	}

	return format
}

// Extension returns the file extension used to persist a payload of this
// format, including the leading dot.
func (f Format) Extension() string {
	if f.LinearPCM {
		return extWAV
	}

	base := strings.ToLower(strings.TrimSpace(strings.Split(f.MIMEType, ";")[0]))

	switch base {
	case mimeWAV, mimeXWAV, mimeWave:
		return extWAV
	case mimeMPEG:
		return extMP3
	}

	extensions, err := mime.ExtensionsByType(base)
	if err != nil || len(extensions) == 0 {
		return extWAV
	}

	return extensions[0]
}

// Validate checks that the PCM parameters can be written to a WAV header.
func (f Format) Validate() error {
	err := validateSampleRate(f.SampleRate)
	if err != nil {
		return err
	}

	return validateBitDepth(f.BitDepth)
}

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, sampleRate, MaxSampleRate)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidQuality, bitDepth)
	}
}
