package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/book-expert/tts-pipeline/internal/core"
)

// WAVHeaderSize is the size of the canonical PCM WAV header.
const WAVHeaderSize = 44

const (
	riffChunkBase   = 36
	fmtChunkSize    = 16
	formatTagPCM    = 1
	bitsPerByte     = 8
	monoChannels    = 1
	errFmtBadFormat = "cannot encode %s as wav: %w"
)

// EncodeWAV prepends a 44-byte mono PCM WAV header to pcm. Zero values for
// sampleRate or bitsPerSample select the defaults.
func EncodeWAV(pcm []byte, sampleRate, bitsPerSample int) []byte {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}

	if bitsPerSample == 0 {
		bitsPerSample = DefaultBitDepth
	}

	dataSize := uint32(len(pcm))
	blockAlign := uint16(monoChannels * (bitsPerSample / bitsPerByte))
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	out := make([]byte, WAVHeaderSize, WAVHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], riffChunkBase+dataSize)
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], fmtChunkSize)
	le.PutUint16(out[20:22], formatTagPCM)
	le.PutUint16(out[22:24], monoChannels)
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], byteRate)
	le.PutUint16(out[32:34], blockAlign)
	le.PutUint16(out[34:36], uint16(bitsPerSample))
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], dataSize)

	return append(out, pcm...)
}

// Prepare returns the bytes to persist for chunk and the file extension to
// persist them under. Linear PCM is wrapped in a WAV header; container
// payloads pass through unchanged.
func Prepare(chunk core.AudioChunk) ([]byte, string, error) {
	format := ParseMediaType(chunk.MIMEType)
	if !format.LinearPCM {
		return chunk.Data, format.Extension(), nil
	}

	err := format.Validate()
	if err != nil {
		return nil, "", fmt.Errorf(errFmtBadFormat, format.MIMEType, err)
	}

	return EncodeWAV(chunk.Data, format.SampleRate, format.BitDepth), extWAV, nil
}
