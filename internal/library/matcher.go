package library

import (
	"errors"
	"fmt"
	"log"

	"github.com/stephencjuliano/streambox/pkg/tmdb"
)

// ErrUnparsable means no usable title could be extracted from the file
// key, so the file can never be auto-matched
var ErrUnparsable = errors.New("file name could not be parsed")

// maxDetailFetches caps how many surviving candidates get a full
// details request, so one unmatched file cannot burn through the TMDB
// rate budget
const maxDetailFetches = 4

// MetadataSource is the slice of the TMDB client the matcher needs
type MetadataSource interface {
	SearchMovie(query string, year int) (tmdb.SearchResponse[tmdb.MovieSearchResult], error)
	SearchTv(query string, year int) (tmdb.SearchResponse[tmdb.TvSearchResult], error)
	FindByImdbID(imdbID string) (tmdb.FindResult, error)
	GetMovieDetails(movieID int64) (tmdb.MovieDetails, error)
	GetTvShowDetails(tvID int64) (tmdb.TvShowDetails, error)
}

// MatchResult is a resolved catalog identity for one file. Exactly one
// of Movie and Show is set.
type MatchResult struct {
	Movie  *tmdb.MovieDetails
	Show   *tmdb.TvShowDetails
	Parsed ParsedName
}

// candidate is one search result under consideration, movie- or
// series-shaped depending on which counts are meaningful
type candidate struct {
	tmdbID       int64
	title        string
	isSeries     bool
	releaseYear  int // movies; 0 unknown
	firstAirYear int // series; 0 unknown
	lastAirYear  int // series; 0 unknown
	seasonCount  int // series; -1 unknown
	episodeCount int // series; -1 unknown
}

// isAllowedMatch applies the cheap rejection filters to a candidate.
// Search results carry partial data; unknown series counts and air
// years never reject, but a movie with no release year is rejected when
// the file names a year.
func (c *candidate) isAllowedMatch(parsed *ParsedName) bool {
	if !c.isSeries {
		if !parsed.IsMovie() {
			return false
		}

		if parsed.Year != 0 {
			if c.releaseYear == 0 {
				// the file names a year but TMDB has none; probably an
				// unreleased movie sharing the name
				return false
			}
			diff := parsed.Year - c.releaseYear
			if diff < -1 || diff > 1 {
				log.Printf("discarding movie candidate '%s': file year %d vs release year %d", c.title, parsed.Year, c.releaseYear)
				return false
			}
		}

		return true
	}

	if !parsed.IsSeries() {
		return false
	}

	if c.seasonCount >= 0 && parsed.SeasonNumber > c.seasonCount {
		log.Printf("discarding series candidate '%s': has %d seasons, file names season %d", c.title, c.seasonCount, parsed.SeasonNumber)
		return false
	}

	if c.episodeCount >= 0 {
		highest := 0
		for _, e := range parsed.Episodes {
			if e > highest {
				highest = e
			}
		}
		if highest > c.episodeCount || c.episodeCount == 0 {
			log.Printf("discarding series candidate '%s': has %d episodes, file names episode %d", c.title, c.episodeCount, highest)
			return false
		}
	}

	if parsed.Year != 0 {
		if c.firstAirYear != 0 && parsed.Year+1 < c.firstAirYear {
			log.Printf("discarding series candidate '%s': file year %d predates first air year %d", c.title, parsed.Year, c.firstAirYear)
			return false
		}
		if c.lastAirYear != 0 && parsed.Year-1 > c.lastAirYear {
			log.Printf("discarding series candidate '%s': file year %d postdates last air year %d", c.title, parsed.Year, c.lastAirYear)
			return false
		}
	}

	return true
}

// Matcher resolves parsed file names to TMDB catalog identities
type Matcher struct {
	source MetadataSource
	parser *NameParser
}

// NewMatcher creates a new matcher backed by the given metadata source
func NewMatcher(source MetadataSource) *Matcher {
	return &Matcher{
		source: source,
		parser: NewNameParser(),
	}
}

// MatchFile resolves a file key to catalog metadata. Returns (nil, nil)
// when the name parses but nothing acceptable was found, and
// ErrUnparsable when no title could be extracted.
func (m *Matcher) MatchFile(key string) (*MatchResult, error) {
	parsed := m.parser.Parse(key)
	if parsed.Title == "" && parsed.TmdbID == 0 && parsed.ImdbID == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnparsable, key)
	}

	// An explicit TMDB id tag bypasses all heuristics
	if parsed.TmdbID != 0 {
		if parsed.IsSeries() {
			show, err := m.source.GetTvShowDetails(parsed.TmdbID)
			if err != nil {
				return nil, err
			}
			return &MatchResult{Show: &show, Parsed: parsed}, nil
		}
		movie, err := m.source.GetMovieDetails(parsed.TmdbID)
		if err != nil {
			return nil, err
		}
		return &MatchResult{Movie: &movie, Parsed: parsed}, nil
	}

	// An IMDB id resolves through the find endpoint; the parsed shape
	// decides which result list is trusted
	if parsed.ImdbID != "" {
		found, err := m.source.FindByImdbID(parsed.ImdbID)
		if err != nil {
			return nil, err
		}

		if parsed.IsSeries() {
			if len(found.TvResults) > 0 {
				show, err := m.source.GetTvShowDetails(found.TvResults[0].ID)
				if err != nil {
					return nil, err
				}
				return &MatchResult{Show: &show, Parsed: parsed}, nil
			}
		} else if len(found.MovieResults) > 0 {
			movie, err := m.source.GetMovieDetails(found.MovieResults[0].ID)
			if err != nil {
				return nil, err
			}
			return &MatchResult{Movie: &movie, Parsed: parsed}, nil
		}

		log.Printf("imdb id %s resolved to no usable %s result for '%s'", parsed.ImdbID, shapeName(&parsed), parsed.Title)
		return nil, nil
	}

	return m.matchBySearch(&parsed)
}

// matchBySearch walks the popularity-ordered search results, applying
// the allow filters, fetching full details for at most
// maxDetailFetches survivors. Series candidates are re-filtered once
// the full details fill in the counts the search results lack.
func (m *Matcher) matchBySearch(parsed *ParsedName) (*MatchResult, error) {
	haystack, err := m.getCandidates(parsed)
	if err != nil {
		return nil, err
	}

	checked := 0
	for i := range haystack {
		c := &haystack[i]
		if !c.isAllowedMatch(parsed) {
			// cheap rejections don't count against the fetch budget
			continue
		}

		checked++
		if checked > maxDetailFetches {
			log.Printf("giving up search for '%s' after %d detail fetches", parsed.Title, maxDetailFetches)
			break
		}

		if !c.isSeries {
			movie, err := m.source.GetMovieDetails(c.tmdbID)
			if err != nil {
				return nil, err
			}
			return &MatchResult{Movie: &movie, Parsed: *parsed}, nil
		}

		show, err := m.source.GetTvShowDetails(c.tmdbID)
		if err != nil {
			return nil, err
		}

		full := candidate{
			tmdbID:       show.ID,
			title:        show.Name,
			isSeries:     true,
			firstAirYear: tmdb.AirYear(show.FirstAirDate),
			lastAirYear:  tmdb.AirYear(show.LastAirDate),
			seasonCount:  countOrUnknown(show.NumberOfSeasons),
			episodeCount: countOrUnknown(show.NumberOfEpisodes),
		}
		if !full.isAllowedMatch(parsed) {
			continue
		}

		return &MatchResult{Show: &show, Parsed: *parsed}, nil
	}

	return nil, nil
}

func (m *Matcher) getCandidates(parsed *ParsedName) ([]candidate, error) {
	var haystack []candidate

	if parsed.IsSeries() {
		results, err := m.source.SearchTv(parsed.Title, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range results.Results {
			haystack = append(haystack, candidate{
				tmdbID:       r.ID,
				title:        r.Name,
				isSeries:     true,
				firstAirYear: tmdb.AirYear(&r.FirstAirDate),
				seasonCount:  -1,
				episodeCount: -1,
			})
		}
		return haystack, nil
	}

	results, err := m.source.SearchMovie(parsed.Title, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range results.Results {
		haystack = append(haystack, candidate{
			tmdbID:      r.ID,
			title:       r.Title,
			releaseYear: tmdb.AirYear(&r.ReleaseDate),
		})
	}
	return haystack, nil
}

func countOrUnknown(n *int64) int {
	if n == nil {
		return -1
	}
	return int(*n)
}

func shapeName(parsed *ParsedName) string {
	if parsed.IsSeries() {
		return "series"
	}
	return "movie"
}
