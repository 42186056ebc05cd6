package voice

import (
	"encoding/binary"
	"fmt"
)

const (
	// WAVHeaderSize 标准 RIFF/WAVE PCM 头长度
	WAVHeaderSize = 44
	// DefaultSampleRate 采集采样率
	DefaultSampleRate = 16000
	bitsPerSample     = 16
)

// BuildWAV 将单声道 16bit 样本封装为 WAV 容器，data 块长度为 2×样本数。
func BuildWAV(samples []int16, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataLen := len(samples) * 2
	const channels = 1
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, WAVHeaderSize+dataLen)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[WAVHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// BuildWAVFromPCM 封装小端 PCM16 字节流，奇数尾字节丢弃。
func BuildWAVFromPCM(pcm []byte, sampleRate int) []byte {
	return BuildWAV(PCMToSamples(pcm), sampleRate)
}

// PCMToSamples 将小端 PCM16 字节转为样本。
func PCMToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// WAVInfo 解析出的 WAV 基本信息
type WAVInfo struct {
	AudioFormat   uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	Data          []byte
}

// ParseWAV 解析 RIFF/WAVE 容器，跳过 fmt 与 data 之外的块。
func ParseWAV(data []byte) (*WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE container")
	}

	info := &WAVInfo{}
	var haveFmt bool
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(data) {
			// 流式写出的文件 data 长度可能未回填，取剩余全部
			if id == "data" {
				size = len(data) - body
			} else {
				return nil, fmt.Errorf("chunk %q overruns container", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			info.AudioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			info.Data = data[body : body+size]
			return info, nil
		}

		offset = body + size + size%2
	}

	return nil, fmt.Errorf("missing data chunk")
}
