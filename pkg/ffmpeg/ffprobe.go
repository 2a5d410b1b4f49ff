package ffmpeg

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// StreamKind classifies a probed stream
type StreamKind string

const (
	StreamVideo    StreamKind = "video"
	StreamAudio    StreamKind = "audio"
	StreamSubtitle StreamKind = "subtitle"
)

// ParseStreamKind converts a URL path segment to a stream kind
func ParseStreamKind(s string) (StreamKind, bool) {
	switch s {
	case "video":
		return StreamVideo, true
	case "audio":
		return StreamAudio, true
	case "subtitle":
		return StreamSubtitle, true
	}
	return "", false
}

// FFprobe wraps ffprobe commands
type FFprobe struct {
	path string
}

// NewFFprobe creates a new FFprobe instance
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

// Stream represents one elementary stream of a probed file. Index is
// the stream's absolute index within the container.
type Stream struct {
	Index       int
	Kind        StreamKind
	CodecName   string
	Width       int
	Height      int
	Channels    int
	Duration    float64 // seconds, 0 if the stream carries none
	TagDuration float64 // seconds, from a DURATION tag (mkv), 0 if absent
	Language    string
	Title       string
}

// Format holds container-level metadata
type Format struct {
	Duration float64 // seconds, 0 if unknown
	BitRate  int64
}

// ProbeResult is the parsed output of one ffprobe run
type ProbeResult struct {
	Streams []Stream
	Format  Format
}

// StreamByIndex returns the stream with the given absolute index, or nil
func (r *ProbeResult) StreamByIndex(idx int) *Stream {
	for i := range r.Streams {
		if r.Streams[i].Index == idx {
			return &r.Streams[i]
		}
	}
	return nil
}

// ffprobeOutput represents the JSON output from ffprobe
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		Index     int               `json:"index"`
		CodecType string            `json:"codec_type"`
		CodecName string            `json:"codec_name"`
		Width     int               `json:"width,omitempty"`
		Height    int               `json:"height,omitempty"`
		Channels  int               `json:"channels,omitempty"`
		Duration  string            `json:"duration,omitempty"`
		Tags      map[string]string `json:"tags,omitempty"`
	} `json:"streams"`
}

// Probe extracts stream and format metadata from a media file
func (f *FFprobe) Probe(filePath string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.Command(f.path, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe error: %w", err)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (*ProbeResult, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}

	if probe.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			result.Format.Duration = duration
		}
	}
	if probe.Format.BitRate != "" {
		if bitrate, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
			result.Format.BitRate = bitrate
		}
	}

	for _, s := range probe.Streams {
		var kind StreamKind
		switch s.CodecType {
		case "video":
			kind = StreamVideo
		case "audio":
			kind = StreamAudio
		case "subtitle":
			kind = StreamSubtitle
		default:
			continue
		}

		stream := Stream{
			Index:     s.Index,
			Kind:      kind,
			CodecName: s.CodecName,
			Width:     s.Width,
			Height:    s.Height,
			Channels:  s.Channels,
		}

		if s.Duration != "" {
			if duration, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				stream.Duration = duration
			}
		}
		if s.Tags != nil {
			stream.Language = s.Tags["language"]
			stream.Title = s.Tags["title"]
			// Matroska carries per-stream durations as a DURATION tag
			// instead of a stream duration field
			for key, value := range s.Tags {
				if strings.EqualFold(key, "duration") {
					stream.TagDuration = parseClockDuration(value)
				}
			}
		}

		result.Streams = append(result.Streams, stream)
	}

	return result, nil
}

// parseClockDuration parses "HH:MM:SS.fraction" tag values into seconds.
// Returns 0 on malformed input.
func parseClockDuration(s string) float64 {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err1 := strconv.ParseFloat(parts[0], 64)
	minutes, err2 := strconv.ParseFloat(parts[1], 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return hours*3600 + minutes*60 + seconds
}
