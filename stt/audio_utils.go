package stt

import "encoding/binary"

// WAV header constants.
const (
	wavHeaderSize  = 44
	wavFmtChunkLen = 16
	wavFormatPCM   = 1
)

// WrapPCMAsWAV wraps raw little-endian PCM in a canonical 44-byte WAV header.
// Upload-style transcription APIs expect a file, not raw samples.
func WrapPCMAsWAV(pcmData []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(pcmData)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	wav := make([]byte, wavHeaderSize+dataSize)
	le := binary.LittleEndian

	copy(wav[0:4], "RIFF")
	le.PutUint32(wav[4:8], uint32(wavHeaderSize-8+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	le.PutUint32(wav[16:20], wavFmtChunkLen)
	le.PutUint16(wav[20:22], wavFormatPCM)
	le.PutUint16(wav[22:24], uint16(channels))
	le.PutUint32(wav[24:28], uint32(sampleRate))
	le.PutUint32(wav[28:32], uint32(byteRate))
	le.PutUint16(wav[32:34], uint16(blockAlign))
	le.PutUint16(wav[34:36], uint16(bitsPerSample))

	copy(wav[36:40], "data")
	le.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[wavHeaderSize:], pcmData)

	return wav
}
