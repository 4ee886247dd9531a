package live

import "strconv"

// PCMMIMEType returns the mime descriptor for raw 16-bit PCM audio.
func PCMMIMEType(sampleRate int) string {
	if sampleRate <= 0 {
		return "audio/pcm"
	}
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}
