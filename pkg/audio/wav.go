package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header. AudioFormat selects
// the sample encoding: 1 for integer PCM, 3 for IEEE float.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3

	headerSize = 44
)

func newHeader(format, bitsPerSample uint16, sampleRate, dataSize uint32) wavHeader {
	bytesPerSample := uint32(bitsPerSample) / 8
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   format,
		NumChannels:   1, // relay output is always mono
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * bytesPerSample,
		BlockAlign:    uint16(bytesPerSample),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAVFloat32 wraps PCM16 bytes in a mono IEEE-float WAV envelope at the
// given sample rate. Samples are normalized via [PCM16ToFloat32] before
// encoding. This is the outbound format for completed assistant utterances.
func EncodeWAVFloat32(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("audio: cannot encode empty audio")
	}

	floats := PCM16ToFloat32(samples)
	dataSize := uint32(len(floats) * 4)

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(floats)*4))
	if err := binary.Write(buf, binary.LittleEndian, newHeader(wavFormatFloat, 32, uint32(sampleRate), dataSize)); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, floats); err != nil {
		return nil, fmt.Errorf("audio: write wav data: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeWAVPCM16 wraps PCM16 bytes in a mono integer-PCM WAV envelope.
// Used by the HTTP speech endpoint when the caller asks for raw PCM samples
// instead of normalized floats.
func EncodeWAVPCM16(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	samples, err := DecodePCM16(pcm)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("audio: cannot encode empty audio")
	}

	dataSize := uint32(len(samples) * 2)
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, newHeader(wavFormatPCM, 16, uint32(sampleRate), dataSize)); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("audio: write wav data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAVFloat32 parses a mono IEEE-float WAV buffer produced by
// [EncodeWAVFloat32] and returns the float samples and sample rate.
func DecodeWAVFloat32(data []byte) ([]float32, int, error) {
	hdr, rest, err := decodeHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if hdr.AudioFormat != wavFormatFloat || hdr.BitsPerSample != 32 {
		return nil, 0, fmt.Errorf("audio: not a 32-bit float wav (format=%d bits=%d)", hdr.AudioFormat, hdr.BitsPerSample)
	}
	n := int(hdr.Subchunk2Size) / 4
	if n <= 0 || len(rest) < n*4 {
		return nil, 0, fmt.Errorf("audio: truncated wav data")
	}
	samples := make([]float32, n)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(rest[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, int(hdr.SampleRate), nil
}

// DecodeWAVPCM16 parses a mono integer-PCM WAV buffer and returns the int16
// samples and sample rate.
func DecodeWAVPCM16(data []byte) ([]int16, int, error) {
	hdr, rest, err := decodeHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if hdr.AudioFormat != wavFormatPCM || hdr.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("audio: not a 16-bit pcm wav (format=%d bits=%d)", hdr.AudioFormat, hdr.BitsPerSample)
	}
	n := int(hdr.Subchunk2Size) / 2
	if n <= 0 || len(rest) < n*2 {
		return nil, 0, fmt.Errorf("audio: truncated wav data")
	}
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(rest[i*2]) | int16(rest[i*2+1])<<8
	}
	return samples, int(hdr.SampleRate), nil
}

func decodeHeader(data []byte) (wavHeader, []byte, error) {
	if len(data) < headerSize {
		return wavHeader{}, nil, fmt.Errorf("audio: wav too short: %d bytes", len(data))
	}
	var hdr wavHeader
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return wavHeader{}, nil, fmt.Errorf("audio: read wav header: %w", err)
	}
	if string(hdr.ChunkID[:]) != "RIFF" || string(hdr.Format[:]) != "WAVE" {
		return wavHeader{}, nil, fmt.Errorf("audio: not a wav buffer")
	}
	if string(hdr.Subchunk1ID[:]) != "fmt " || string(hdr.Subchunk2ID[:]) != "data" {
		return wavHeader{}, nil, fmt.Errorf("audio: unexpected wav chunk layout")
	}
	if hdr.NumChannels != 1 {
		return wavHeader{}, nil, fmt.Errorf("audio: unsupported channel count %d", hdr.NumChannels)
	}
	return hdr, data[headerSize:], nil
}
