package audio

import (
	"encoding/binary"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

// Convert 将 PCM16 片段转换为输出设备的采样率与声道数。
// 采样率用线性插值，声道按平均值下混或复制上混。
func Convert(item model.PlaybackItem, sampleRate, channels int) []byte {
	srcRate, srcCh := item.SampleRate, item.Channels
	if srcRate <= 0 {
		srcRate = sampleRate
	}
	if srcCh <= 0 {
		srcCh = 1
	}
	if srcRate == sampleRate && srcCh == channels {
		return item.PCM
	}

	frames := len(item.PCM) / (2 * srcCh)
	if frames == 0 {
		return nil
	}

	if srcCh == channels && srcCh > 1 {
		// 多声道只改采样率时逐声道重采样，保留立体声
		return resampleInterleaved(item.PCM, srcCh, frames, srcRate, sampleRate)
	}

	// 先下混到单声道
	mono := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < srcCh; c++ {
			off := (f*srcCh + c) * 2
			sum += float64(int16(binary.LittleEndian.Uint16(item.PCM[off:])))
		}
		mono[f] = sum / float64(srcCh)
	}

	outFrames := frames
	if srcRate != sampleRate {
		outFrames = int(int64(frames) * int64(sampleRate) / int64(srcRate))
	}
	out := make([]byte, outFrames*channels*2)
	for f := 0; f < outFrames; f++ {
		v := sampleAt(mono, float64(f)*float64(srcRate)/float64(sampleRate))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(out[(f*channels+c)*2:], uint16(clamp16(v)))
		}
	}
	return out
}

func resampleInterleaved(pcm []byte, channels, frames, srcRate, dstRate int) []byte {
	outFrames := int(int64(frames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, outFrames*channels*2)
	column := make([]float64, frames)
	for c := 0; c < channels; c++ {
		for f := 0; f < frames; f++ {
			column[f] = float64(int16(binary.LittleEndian.Uint16(pcm[(f*channels+c)*2:])))
		}
		for f := 0; f < outFrames; f++ {
			v := sampleAt(column, float64(f)*float64(srcRate)/float64(dstRate))
			binary.LittleEndian.PutUint16(out[(f*channels+c)*2:], uint16(clamp16(v)))
		}
	}
	return out
}

func sampleAt(src []float64, pos float64) float64 {
	i := int(pos)
	if i >= len(src)-1 {
		return src[len(src)-1]
	}
	frac := pos - float64(i)
	return src[i]*(1-frac) + src[i+1]*frac
}

func clamp16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
