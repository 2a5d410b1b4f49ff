package library

import (
	"testing"

	"github.com/stephencjuliano/streambox/pkg/tmdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scripted MetadataSource
type fakeSource struct {
	movies       []tmdb.MovieSearchResult
	shows        []tmdb.TvSearchResult
	movieDetails map[int64]tmdb.MovieDetails
	showDetails  map[int64]tmdb.TvShowDetails
	findResult   tmdb.FindResult

	movieDetailCalls int
	showDetailCalls  int
}

func (f *fakeSource) SearchMovie(query string, year int) (tmdb.SearchResponse[tmdb.MovieSearchResult], error) {
	return tmdb.SearchResponse[tmdb.MovieSearchResult]{Results: f.movies}, nil
}

func (f *fakeSource) SearchTv(query string, year int) (tmdb.SearchResponse[tmdb.TvSearchResult], error) {
	return tmdb.SearchResponse[tmdb.TvSearchResult]{Results: f.shows}, nil
}

func (f *fakeSource) FindByImdbID(imdbID string) (tmdb.FindResult, error) {
	return f.findResult, nil
}

func (f *fakeSource) GetMovieDetails(movieID int64) (tmdb.MovieDetails, error) {
	f.movieDetailCalls++
	return f.movieDetails[movieID], nil
}

func (f *fakeSource) GetTvShowDetails(tvID int64) (tmdb.TvShowDetails, error) {
	f.showDetailCalls++
	return f.showDetails[tvID], nil
}

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }

func TestMatchMovieByYear(t *testing.T) {
	source := &fakeSource{
		movies: []tmdb.MovieSearchResult{
			// more popular, but the wrong decade
			{ID: 100, Title: "The Matrix Resurrections", ReleaseDate: "2021-12-22"},
			{ID: 603, Title: "The Matrix", ReleaseDate: "1999-03-30"},
		},
		movieDetails: map[int64]tmdb.MovieDetails{
			603: {ID: 603, Title: "The Matrix", ReleaseDate: strPtr("1999-03-30")},
		},
	}

	matcher := NewMatcher(source)
	result, err := matcher.MatchFile("The.Matrix.1999.1080p.BluRay.x264.mkv")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Movie)
	assert.Equal(t, int64(603), result.Movie.ID)
	assert.Equal(t, 1, source.movieDetailCalls, "rejected candidates must not cost detail fetches")
}

func TestMatchMovieRejectsUndatedCandidate(t *testing.T) {
	source := &fakeSource{
		movies: []tmdb.MovieSearchResult{
			// a dated file must not match an unreleased namesake
			{ID: 1, Title: "The Matrix"},
		},
	}

	matcher := NewMatcher(source)
	result, err := matcher.MatchFile("The.Matrix.1999.mkv")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMatchSeriesRefiltersOnFullDetails(t *testing.T) {
	source := &fakeSource{
		shows: []tmdb.TvSearchResult{
			{ID: 10, Name: "One Piece", FirstAirDate: "2023-08-31"},
			{ID: 20, Name: "One Piece", FirstAirDate: "1999-10-20"},
		},
		showDetails: map[int64]tmdb.TvShowDetails{
			// live action remake: only one season, fails the re-filter
			10: {ID: 10, Name: "One Piece", FirstAirDate: strPtr("2023-08-31"), NumberOfSeasons: i64Ptr(1), NumberOfEpisodes: i64Ptr(8)},
			20: {ID: 20, Name: "One Piece", FirstAirDate: strPtr("1999-10-20"), NumberOfSeasons: i64Ptr(22), NumberOfEpisodes: i64Ptr(1100)},
		},
	}

	matcher := NewMatcher(source)
	result, err := matcher.MatchFile("One.Piece.S05E03.mkv")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Show)
	assert.Equal(t, int64(20), result.Show.ID)
}

func TestMatchSeriesRejectsEpisodeCountOverrun(t *testing.T) {
	source := &fakeSource{
		shows: []tmdb.TvSearchResult{{ID: 30, Name: "Short Show"}},
		showDetails: map[int64]tmdb.TvShowDetails{
			30: {ID: 30, Name: "Short Show", NumberOfSeasons: i64Ptr(1), NumberOfEpisodes: i64Ptr(8)},
		},
	}

	matcher := NewMatcher(source)
	result, err := matcher.MatchFile("Short.Show.S01E22.mkv")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMatchByImdbIDPrefersShapedResult(t *testing.T) {
	source := &fakeSource{
		findResult: tmdb.FindResult{
			TvResults: []tmdb.TvSearchResult{{ID: 94605, Name: "Arcane"}},
		},
		showDetails: map[int64]tmdb.TvShowDetails{
			94605: {ID: 94605, Name: "Arcane", FirstAirDate: strPtr("2021-11-06")},
		},
	}

	matcher := NewMatcher(source)
	result, err := matcher.MatchFile("Arcane (2021) {imdb-tt11126994}/S01E01.mkv")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Show)
	assert.Equal(t, int64(94605), result.Show.ID)
	assert.Equal(t, 1, result.Parsed.SeasonNumber)
}

func TestMatchByTmdbTag(t *testing.T) {
	source := &fakeSource{
		movieDetails: map[int64]tmdb.MovieDetails{
			438631: {ID: 438631, Title: "Dune"},
		},
	}

	matcher := NewMatcher(source)
	result, err := matcher.MatchFile("Dune {tmdb-438631}.mkv")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Movie)
	assert.Equal(t, int64(438631), result.Movie.ID)
	assert.Equal(t, 1, source.movieDetailCalls, "tag match must skip search entirely")
}

func TestMatchUnparsableName(t *testing.T) {
	matcher := NewMatcher(&fakeSource{})
	_, err := matcher.MatchFile("1080p.mkv")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestCandidateYearWindow(t *testing.T) {
	parsed := &ParsedName{Title: "Test", Year: 2000}

	for _, tc := range []struct {
		releaseYear int
		allowed     bool
	}{
		{1999, true},
		{2000, true},
		{2001, true},
		{1998, false},
		{2002, false},
	} {
		c := &candidate{tmdbID: 1, title: "Test", releaseYear: tc.releaseYear}
		assert.Equal(t, tc.allowed, c.isAllowedMatch(parsed), "release year %d", tc.releaseYear)
	}
}

func TestSeriesCandidateAirYearWindow(t *testing.T) {
	parsed := &ParsedName{Title: "Test", Year: 2010, SeasonNumber: 1, Episodes: []int{1}, IsTV: true}

	// one year of slack on either side of the air window
	allowed := &candidate{isSeries: true, firstAirYear: 2011, lastAirYear: 2015, seasonCount: -1, episodeCount: -1}
	assert.True(t, allowed.isAllowedMatch(parsed))

	tooLate := &candidate{isSeries: true, firstAirYear: 2012, seasonCount: -1, episodeCount: -1}
	assert.False(t, tooLate.isAllowedMatch(parsed))

	tooEarly := &candidate{isSeries: true, lastAirYear: 2008, seasonCount: -1, episodeCount: -1}
	assert.False(t, tooEarly.isAllowedMatch(parsed))
}
