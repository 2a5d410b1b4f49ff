package library

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// NameParser extracts titles, years, season/episode numbers, and
// explicit TMDB/IMDB id tags from media file keys. Keys may contain
// directory components ("Arcane (2021) {imdb-tt11126994}/S01E01.mkv");
// the whole key participates in parsing.
type NameParser struct {
	yearRegex      *regexp.Regexp
	imdbIDRegex    *regexp.Regexp
	tmdbIDRegex    *regexp.Regexp
	tvShowRegex    *regexp.Regexp
	tvShowAltRegex *regexp.Regexp
	episodeRegex   *regexp.Regexp
	qualityRegex   *regexp.Regexp
	tagRegex       *regexp.Regexp
	spacesRegex    *regexp.Regexp
}

// NewNameParser creates a parser with pre-compiled regular expressions
func NewNameParser() *NameParser {
	return &NameParser{
		// Years are bare four-digit tokens in the 1900-2099 range. An
		// eight-digit run (an imdb id's digits) has no internal word
		// boundary, and "1080p" has no trailing one, so neither is
		// picked up here.
		yearRegex: regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`),

		// IMDb identifiers: tt followed by at least 6 digits
		imdbIDRegex: regexp.MustCompile(`\btt\d{6,}\b`),

		// Explicit TMDB id tags in braces or brackets, following the
		// plex naming conventions: {tmdb-123}, [tmdbid=123]
		tmdbIDRegex: regexp.MustCompile(`(?:\{|\[)tmdb(?:-?id)?(?:=|-)(\d{3,})(?:\}|\])`),

		// S01E01 with optional extra episodes: S01E01E02, S01E01-E02
		tvShowRegex: regexp.MustCompile(`(?i)\bs(\d{1,2})((?:[-.\s]?e\d{1,4})+)`),

		// Alternative 1x01 format
		tvShowAltRegex: regexp.MustCompile(`\b(\d{1,2})x(\d{1,4})\b`),

		// Extracts the individual episode numbers from the episode part
		// of a tvShowRegex match
		episodeRegex: regexp.MustCompile(`\d{1,4}`),

		// Quality and format markers stripped from titles
		qualityRegex: regexp.MustCompile(`(?i)[.\s_-]?(1080p|720p|480p|2160p|4k|uhd|hdr|bluray|bdrip|brrip|webrip|webdl|web-dl|dvdrip|hdtv|x264|x265|hevc|h264|h265|aac|ac3|dts|atmos|remastered|extended|unrated|theatrical|proper|nf|amzn)[.\s_-]?`),

		// Brace/bracket tag groups, eg {imdb-tt0372784} or [1080p]
		tagRegex: regexp.MustCompile(`\{[^}]*\}|\[[^\]]*\]|\([^)]*\)`),

		spacesRegex: regexp.MustCompile(`\s+`),
	}
}

// ParsedName is the result of parsing one file key
type ParsedName struct {
	Title        string
	Year         int   // 0 if not found
	SeasonNumber int   // meaningful only when IsTV
	Episodes     []int // meaningful only when IsTV
	IsTV         bool
	ImdbID       string // "" if not tagged
	TmdbID       int64  // 0 if not tagged
}

// IsMovie reports whether the name is movie-shaped (no season marker)
func (p *ParsedName) IsMovie() bool {
	return !p.IsTV
}

// IsSeries reports whether the name is series-shaped
func (p *ParsedName) IsSeries() bool {
	return p.IsTV
}

// Parse parses a file key and extracts all available metadata.
// A result with an empty Title and no id tag means the key could not be
// parsed.
func (p *NameParser) Parse(key string) ParsedName {
	result := ParsedName{}

	name := strings.TrimSuffix(key, filepath.Ext(key))

	// Id tags come off the raw name before anything is rewritten
	if m := p.imdbIDRegex.FindString(name); m != "" {
		result.ImdbID = m
	}
	if m := p.tmdbIDRegex.FindStringSubmatch(name); len(m) >= 2 {
		result.TmdbID, _ = strconv.ParseInt(m[1], 10, 64)
	}

	// The year is the LAST four-digit token, so a title like
	// "2077 (2009)" resolves to the release year rather than the title
	years := p.yearRegex.FindAllStringSubmatchIndex(name, -1)
	if len(years) > 0 {
		last := years[len(years)-1]
		result.Year, _ = strconv.Atoi(name[last[2]:last[3]])
	}

	// Season/episode markers decide whether this is a series
	if m := p.tvShowRegex.FindStringSubmatchIndex(name); m != nil {
		seasonStr := name[m[2]:m[3]]
		episodePart := name[m[4]:m[5]]
		result.IsTV = true
		result.SeasonNumber, _ = strconv.Atoi(seasonStr)
		for _, e := range p.episodeRegex.FindAllString(episodePart, -1) {
			n, _ := strconv.Atoi(e)
			result.Episodes = append(result.Episodes, n)
		}
		result.Title = p.cleanTitle(p.cutAtYear(name[:m[0]]))
		return result
	}

	if m := p.tvShowAltRegex.FindStringSubmatchIndex(name); m != nil {
		result.IsTV = true
		result.SeasonNumber, _ = strconv.Atoi(name[m[2]:m[3]])
		episode, _ := strconv.Atoi(name[m[4]:m[5]])
		result.Episodes = []int{episode}
		result.Title = p.cleanTitle(p.cutAtYear(name[:m[0]]))
		return result
	}

	// Movie: the title is whatever precedes the year token
	result.Title = p.cleanTitle(p.cutAtYear(name))

	return result
}

// cutAtYear drops everything from the last year token onward, so
// release metadata trailing the year never reaches the title. A title
// that itself looks like a year ("2077 (2009)") survives because only
// the last token cuts.
func (p *NameParser) cutAtYear(name string) string {
	years := p.yearRegex.FindAllStringIndex(name, -1)
	if len(years) == 0 {
		return name
	}
	return name[:years[len(years)-1][0]]
}

// cleanTitle strips tags, quality markers, and separators, and
// normalizes spacing and capitalization
func (p *NameParser) cleanTitle(title string) string {
	// Directory components preceding the interesting part are noise
	// only when the final component carries its own title; keep the
	// last non-empty component that still has content after cleanup.
	parts := strings.Split(title, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if cleaned := p.cleanTitlePart(parts[i]); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

func (p *NameParser) cleanTitlePart(title string) string {
	title = p.tagRegex.ReplaceAllString(title, " ")
	title = p.qualityRegex.ReplaceAllString(title, " ")

	for _, sep := range []string{".", "_", "-", "(", ")", "[", "]", "{", "}"} {
		title = strings.ReplaceAll(title, sep, " ")
	}

	title = p.spacesRegex.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)

	return normalizeCapitalization(title)
}

// Small words stay lowercase unless they lead the title
var smallWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true,
	"in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "from": true, "by": true,
}

func normalizeCapitalization(title string) string {
	words := strings.Fields(title)

	for i, word := range words {
		lower := strings.ToLower(word)

		if i > 0 && smallWords[lower] {
			words[i] = lower
			continue
		}

		words[i] = capitalize(lower)
	}

	return strings.Join(words, " ")
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
