package media

import "strconv"

// DescribeFormat returns a human-readable format type for an audio stream.
// DSD is indicated by its characteristic sample rates; everything else is
// reported as PCM.
func DescribeFormat(s *StreamInfo) string {
	if s == nil {
		return ""
	}
	// DSD64 = 2822400 Hz (64x CD rate), doubling per grade
	switch s.SampleRate {
	case 2822400:
		return "DSD64"
	case 5644800:
		return "DSD128"
	case 11289600:
		return "DSD256"
	case 22579200:
		return "DSD512"
	default:
		return "PCM"
	}
}

// FormatSampleRate returns a human-readable sample rate string.
func FormatSampleRate(sampleRate int) string {
	if sampleRate >= 1000000 {
		return DescribeFormat(&StreamInfo{SampleRate: sampleRate})
	}
	if sampleRate >= 1000 {
		return strconv.FormatFloat(float64(sampleRate)/1000, 'f', -1, 64) + "kHz"
	}
	return strconv.Itoa(sampleRate) + "Hz"
}

// FormatBitDepth returns a human-readable bit depth string.
func FormatBitDepth(bitDepth int) string {
	return strconv.Itoa(bitDepth) + "-bit"
}
