package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("not a valid PCM wav file")

// StreamInfo describes a decoded WAV stream.
type StreamInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int // Mono frames delivered to the processor.
	Blocks     int // ProcessAudioBlock calls made.
}

// Duration returns the length of the delivered audio.
func (s StreamInfo) Duration() time.Duration {
	if s.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(s.Frames) / float64(s.SampleRate) * float64(time.Second))
}

// ReadWAV streams the PCM WAV file at path through proc in blocks of
// blockSize mono frames, downmixed and scaled to [-1, 1]. The last block
// may be shorter.
func ReadWAV(path string, blockSize int, proc BlockProcessor) (StreamInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("failed to open wav: %w", err)
	}
	defer f.Close()

	return DecodeWAV(f, blockSize, proc)
}

// DecodeWAV is ReadWAV over an already open stream.
func DecodeWAV(r io.ReadSeeker, blockSize int, proc BlockProcessor) (StreamInfo, error) {
	if blockSize <= 0 {
		return StreamInfo{}, fmt.Errorf("invalid block size %d", blockSize)
	}

	decoder, info, err := openDecoder(r)
	if err != nil {
		return info, err
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: info.Channels, SampleRate: info.SampleRate},
		Data:   make([]int, blockSize*info.Channels),
	}
	interleaved := make([]float32, blockSize*info.Channels)
	mono := make([]float32, blockSize)
	scale := 1 / float32(int64(1)<<(info.BitDepth-1))

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return info, fmt.Errorf("failed to decode wav: %w", err)
		}
		if n == 0 {
			break
		}

		frames := n / info.Channels
		if frames == 0 {
			break
		}
		for i, v := range buf.Data[:frames*info.Channels] {
			interleaved[i] = float32(v) * scale
		}
		downmix(mono[:frames], interleaved[:frames*info.Channels], info.Channels)

		proc.ProcessAudioBlock(mono[:frames])
		info.Frames += frames
		info.Blocks++
	}

	return info, nil
}

// WAVInfo reads only the header of the WAV file at path.
func WAVInfo(path string) (StreamInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return StreamInfo{}, fmt.Errorf("failed to open wav: %w", err)
	}
	defer f.Close()

	_, info, err := openDecoder(f)
	return info, err
}

// openDecoder validates the header and returns the format. Only integer
// PCM at 16, 24 or 32 bits is accepted.
func openDecoder(r io.ReadSeeker) (*wav.Decoder, StreamInfo, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, StreamInfo{}, ErrInvalidWAV
	}
	if decoder.WavAudioFormat != 1 {
		return nil, StreamInfo{}, fmt.Errorf("%w: audio format %d is not integer PCM", ErrInvalidWAV, decoder.WavAudioFormat)
	}

	info := StreamInfo{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	switch info.BitDepth {
	case 16, 24, 32:
	default:
		return nil, info, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, info.BitDepth)
	}
	if info.Channels <= 0 {
		return nil, info, fmt.Errorf("%w: %d channels", ErrInvalidWAV, info.Channels)
	}
	return decoder, info, nil
}
