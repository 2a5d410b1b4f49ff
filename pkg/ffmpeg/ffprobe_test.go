package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	output := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
			{"index": 1, "codec_type": "audio", "codec_name": "aac", "channels": 6, "duration": "4819.456000", "tags": {"language": "eng"}},
			{"index": 2, "codec_type": "subtitle", "codec_name": "subrip", "tags": {"language": "eng", "DURATION": "01:20:19.456000000"}},
			{"index": 3, "codec_type": "attachment", "codec_name": "ttf"}
		],
		"format": {"duration": "4820.032000", "bit_rate": "5832960"}
	}`)

	probe, err := parseProbeOutput(output)
	require.NoError(t, err)

	// attachments are dropped
	require.Len(t, probe.Streams, 3)

	video := probe.StreamByIndex(0)
	require.NotNil(t, video)
	assert.Equal(t, StreamVideo, video.Kind)
	assert.Equal(t, "h264", video.CodecName)
	assert.Equal(t, 1920, video.Width)

	audio := probe.StreamByIndex(1)
	require.NotNil(t, audio)
	assert.Equal(t, StreamAudio, audio.Kind)
	assert.Equal(t, 6, audio.Channels)
	assert.InDelta(t, 4819.456, audio.Duration, 0.001)
	assert.Equal(t, "eng", audio.Language)

	subtitle := probe.StreamByIndex(2)
	require.NotNil(t, subtitle)
	assert.Equal(t, StreamSubtitle, subtitle.Kind)
	// 1h 20m 19.456s from the matroska DURATION tag
	assert.InDelta(t, 4819.456, subtitle.TagDuration, 0.001)

	assert.InDelta(t, 4820.032, probe.Format.Duration, 0.001)
	assert.Equal(t, int64(5832960), probe.Format.BitRate)

	assert.Nil(t, probe.StreamByIndex(9))
}

func TestParseClockDuration(t *testing.T) {
	assert.InDelta(t, 4819.456, parseClockDuration("01:20:19.456000000"), 0.001)
	assert.InDelta(t, 12.0, parseClockDuration("00:00:12.000000000"), 0.001)
	assert.Zero(t, parseClockDuration("not-a-duration"))
	assert.Zero(t, parseClockDuration("12.5"))
}
