package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Profile is a transcoding policy applied to one stream of one file.
// The set is closed; behavior is switched on the profile name.
type Profile struct {
	Name string
	Kind StreamKind
	Ext  string
}

// The supported profiles
var (
	CopyVideoProfile      = Profile{Name: "copy", Kind: StreamVideo, Ext: "ts"}
	AacAudioProfile       = Profile{Name: "aac", Kind: StreamAudio, Ext: "ts"}
	WebVttSubtitleProfile = Profile{Name: "webvtt", Kind: StreamSubtitle, Ext: "vtt"}
)

// Profiles lists every available profile in master-playlist order
var Profiles = []Profile{CopyVideoProfile, AacAudioProfile, WebVttSubtitleProfile}

// ProfileByName returns the profile with the given name for the given
// stream kind
func ProfileByName(kind StreamKind, name string) (Profile, bool) {
	for _, p := range Profiles {
		if p.Kind == kind && p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// AppliesTo reports whether this profile can service the given stream
func (p Profile) AppliesTo(stream *Stream) bool {
	if stream.Kind != p.Kind {
		return false
	}

	switch p.Name {
	case "copy":
		switch stream.CodecName {
		case "h264", "hevc":
			return true
		}
		return false
	case "aac":
		return true
	case "webvtt":
		switch stream.CodecName {
		case "webvtt", "subrip", "ass", "ssa":
			return true
		}
		return false
	}
	return false
}

// SegmentFileName returns the on-disk name of segment n for this profile
func (p Profile) SegmentFileName(n int) string {
	return fmt.Sprintf("seg-%d.%s", n, p.Ext)
}

// ProfileContext carries everything a profile needs to build converter
// arguments for one session start
type ProfileContext struct {
	InputPath       string
	StreamIndex     int
	OutputDir       string
	SegmentIndex    int     // first segment the converter will emit
	SegmentDuration float64 // target duration in seconds
	StartTimeOffset float64 // input seek in seconds
}

// Args builds the ffmpeg argument list for this profile. The copy and
// aac profiles publish segments atomically (temp file, renamed on
// completion) so readers never observe a partial segment. The webvtt
// profile uses the segment muxer, which writes each segment in place
// with no temp file.
func (p Profile) Args(ctx ProfileContext) []string {
	streamMap := "0:" + strconv.Itoa(ctx.StreamIndex)
	segTemplate := filepath.Join(ctx.OutputDir, "seg-%d."+p.Ext)
	playlistPath := filepath.Join(ctx.OutputDir, "playlist.m3u8")
	offset := strconv.FormatFloat(ctx.StartTimeOffset, 'f', -1, 64)
	segDuration := strconv.FormatFloat(ctx.SegmentDuration, 'f', -1, 64)
	startNumber := strconv.Itoa(ctx.SegmentIndex)

	switch p.Name {
	case "copy":
		return []string{
			"-y",
			"-ss", offset,
			"-i", ctx.InputPath,
			"-copyts",
			"-map", streamMap,
			"-c:0", "copy",
			"-start_at_zero",
			"-avoid_negative_ts", "disabled",
			"-f", "hls",
			"-start_number", startNumber,
			"-hls_flags", "split_by_time+temp_file",
			"-hls_time", segDuration,
			"-hls_segment_filename", segTemplate,
			playlistPath,
		}
	case "aac":
		return []string{
			"-y",
			"-ss", offset,
			"-i", ctx.InputPath,
			"-copyts",
			"-map", streamMap,
			"-c:0", "aac",
			"-ac", "2",
			"-ab", "128k",
			"-start_at_zero",
			"-avoid_negative_ts", "make_non_negative",
			"-f", "hls",
			"-start_number", startNumber,
			"-hls_flags", "split_by_time+temp_file",
			"-hls_time", segDuration,
			"-hls_segment_filename", segTemplate,
			playlistPath,
		}
	case "webvtt":
		return []string{
			"-y",
			"-ss", offset,
			"-i", ctx.InputPath,
			"-copyts",
			"-map", streamMap,
			"-c:0", "webvtt",
			"-f", "segment",
			"-segment_time", segDuration,
			"-segment_list", "pipe:1",
			"-segment_list_type", "m3u8",
			"-segment_start_number", startNumber,
			segTemplate,
		}
	}

	return nil
}
