package ffmpeg

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// TargetDuration is the nominal HLS segment length in seconds
const TargetDuration = 5.0

// ErrNoDuration is returned when neither the stream, the container, nor
// a stream tag carries a usable duration
var ErrNoDuration = errors.New("no stream duration found")

// StreamDuration resolves the playable duration of a stream, preferring
// the stream's own duration, then the container duration, then a
// DURATION tag on the stream.
func StreamDuration(stream *Stream, format Format) (float64, error) {
	if stream.Duration > 0 {
		return stream.Duration, nil
	}
	if format.Duration > 0 {
		return format.Duration, nil
	}
	if stream.TagDuration > 0 {
		return stream.TagDuration, nil
	}
	return 0, ErrNoDuration
}

// MasterPlaylist renders the master playlist for a probed file. Each
// stream contributes one line per applicable profile: STREAM-INF for
// video, MEDIA for audio. Audio renditions share one group and the
// first is the default. Subtitle streams are reachable through their
// variant playlists but are not advertised here.
func MasterPlaylist(probe *ProbeResult) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n\n")

	firstAudio := true
	for i := range probe.Streams {
		stream := &probe.Streams[i]

		var profiles []Profile
		for _, p := range Profiles {
			if p.AppliesTo(stream) {
				profiles = append(profiles, p)
			}
		}

		// video first, then audio
		sort.SliceStable(profiles, func(a, b int) bool {
			return profiles[a].Kind == StreamVideo && profiles[b].Kind == StreamAudio
		})

		for _, profile := range profiles {
			playlistPath := fmt.Sprintf("%s/%d/%s/index.m3u8", profile.Kind, stream.Index, profile.Name)

			switch profile.Kind {
			case StreamVideo:
				b.WriteString("#EXT-X-STREAM-INF:AUDIO=\"group_audio\"\n")
				b.WriteString(playlistPath)
				b.WriteString("\n\n")
			case StreamAudio:
				defaultFlag := "NO"
				if firstAudio {
					defaultFlag = "YES"
					firstAudio = false
				}
				b.WriteString(fmt.Sprintf(
					"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"group_audio\",NAME=\"audio_%d\",DEFAULT=%s,URI=\"%s\"\n\n",
					stream.Index, defaultFlag, playlistPath,
				))
			}
		}
	}

	return b.String()
}

// VariantPlaylist renders the VOD playlist for one stream under one
// profile. Segments are numbered from 0 and the last may be truncated.
func VariantPlaylist(stream *Stream, format Format, profile Profile) (string, error) {
	duration, err := StreamDuration(stream, format)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(TargetDuration))))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n\n")

	remaining := duration
	segmentIndex := 0
	for remaining > 1e-9 {
		segmentDuration := math.Min(remaining, TargetDuration)
		b.WriteString(fmt.Sprintf("#EXTINF:%.2f\n", segmentDuration))
		b.WriteString(fmt.Sprintf("%d.%s\n\n", segmentIndex, profile.Ext))
		remaining -= segmentDuration
		segmentIndex++
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String(), nil
}

// SegmentCount returns the number of segments the variant playlist for
// the given duration will contain
func SegmentCount(duration float64) int {
	return int(math.Ceil(duration / TargetDuration))
}
