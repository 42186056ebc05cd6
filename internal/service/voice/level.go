package voice

import "math"

// RMSLevel 计算小端 PCM16 的均方根能量，返回 0.0-1.0。
func RMSLevel(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakLevel 返回最大绝对幅度，0.0-1.0。
func PeakLevel(pcm []byte) float64 {
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 避免对 -32768 取反溢出
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}
