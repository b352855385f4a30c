package audio

import "math"

// Downsample converts mono float32 samples from srcRate to dstRate by
// block-averaging decimation: output sample i is the mean of all source
// samples whose index falls in [round(i*ratio), round((i+1)*ratio)), where
// ratio = srcRate/dstRate. If the rates match, src is returned unchanged.
//
// Upsampling is not supported; callers must capture at a rate at or above
// the wire rate.
func Downsample(src []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(src) == 0 {
		return src
	}
	ratio := float64(srcRate) / float64(dstRate)
	dstSamples := int(math.Round(float64(len(src)) / ratio))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	for i := range dstSamples {
		start := int(math.Round(float64(i) * ratio))
		end := int(math.Round(float64(i+1) * ratio))
		if end > len(src) {
			end = len(src)
		}
		if start >= end {
			if start < len(src) {
				out[i] = src[start]
			}
			continue
		}
		var sum float64
		for _, s := range src[start:end] {
			sum += float64(s)
		}
		out[i] = float32(sum / float64(end-start))
	}
	return out
}

// EncodePCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
// Samples are clamped before scaling; negative values scale by 32768 and
// non-negative values by 32767 so that -1.0 maps to -32768 and 1.0 to 32767.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian int16 PCM bytes to float samples in
// [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if v < 0 {
			out[i] = float32(v) / 32768
		} else {
			out[i] = float32(v) / 32767
		}
	}
	return out
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
