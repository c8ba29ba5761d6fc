package audio

// Discord-compatible voice audio is 48 kHz stereo, 20 ms per frame.
const (
	SampleRate = 48000
	Channels   = 2

	// FrameSamples is the number of samples per channel in one frame.
	FrameSamples = SampleRate / 50 // 960

	// FrameLen is the number of interleaved int16 samples in one frame.
	FrameLen = FrameSamples * Channels
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Output is the format every track must produce and every frame carries.
var Output = Format{SampleRate: SampleRate, Channels: Channels}
