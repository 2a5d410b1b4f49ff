package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"

	// ImageBaseURL prefixes every poster/backdrop/still path TMDB returns
	ImageBaseURL = "https://image.tmdb.org/t/p/original"

	// requestsPerSecond and burstSize bound the request rate against
	// the TMDB API; cacheSize bounds the response cache.
	requestsPerSecond = 5
	burstSize         = 20
	cacheSize         = 1000
)

// Client handles TMDB API requests. It is safe for concurrent use:
// responses are cached in a bounded LRU keyed by full URL, and cache
// misses pass through a token-bucket rate limiter.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      *lru.Cache[string, []byte]
	limiter    *rate.Limiter
}

// NewClient creates a new TMDB client
func NewClient(apiKey string) *Client {
	cache, _ := lru.New[string, []byte](cacheSize)
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
	}
}

// IsConfigured returns true if an API key is set
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// SetBaseURL points the client at a different API endpoint, for
// proxies and tests
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

func get[T any](c *Client, path string, params url.Values) (T, error) {
	var result T
	if !c.IsConfigured() {
		return result, fmt.Errorf("TMDB API key not configured")
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	requestURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	if cached, ok := c.cache.Get(requestURL); ok {
		if err := json.Unmarshal(cached, &result); err != nil {
			return result, err
		}
		return result, nil
	}

	if err := c.limiter.Wait(context.Background()); err != nil {
		return result, err
	}

	resp, err := c.httpClient.Get(requestURL)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("TMDB API error: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return result, err
	}

	c.cache.Add(requestURL, body)
	return result, nil
}

// SearchResponse wraps a paged TMDB search result list, ordered by
// popularity
type SearchResponse[T any] struct {
	Page         int `json:"page"`
	Results      []T `json:"results"`
	TotalResults int `json:"total_results"`
}

// MovieSearchResult represents a movie search result
type MovieSearchResult struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	ReleaseDate string  `json:"release_date"`
	PosterPath  string  `json:"poster_path"`
	Popularity  float64 `json:"popularity"`
}

// TvSearchResult represents a TV show search result
type TvSearchResult struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Overview     string  `json:"overview"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path"`
	Popularity   float64 `json:"popularity"`
}

// ExternalIDs contains external identifiers like IMDB
type ExternalIDs struct {
	ImdbID string `json:"imdb_id"`
}

// MovieDetails represents detailed movie info
type MovieDetails struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Overview     *string      `json:"overview"`
	ReleaseDate  *string      `json:"release_date"`
	PosterPath   *string      `json:"poster_path"`
	BackdropPath *string      `json:"backdrop_path"`
	VoteAverage  *float64     `json:"vote_average"`
	Runtime      *int64       `json:"runtime"`
	ExternalIDs  *ExternalIDs `json:"external_ids,omitempty"`
}

// TvShowDetails represents detailed TV show info
type TvShowDetails struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Overview         *string      `json:"overview"`
	FirstAirDate     *string      `json:"first_air_date"`
	LastAirDate      *string      `json:"last_air_date"`
	PosterPath       *string      `json:"poster_path"`
	BackdropPath     *string      `json:"backdrop_path"`
	VoteAverage      *float64     `json:"vote_average"`
	NumberOfSeasons  *int64       `json:"number_of_seasons"`
	NumberOfEpisodes *int64       `json:"number_of_episodes"`
	InProduction     bool         `json:"in_production"`
	ExternalIDs      *ExternalIDs `json:"external_ids,omitempty"`
}

// SeasonDetails represents detailed TV season info
type SeasonDetails struct {
	ID           int64            `json:"id"`
	SeasonNumber int64            `json:"season_number"`
	Name         string           `json:"name"`
	Episodes     []EpisodeSummary `json:"episodes"`
}

// EpisodeSummary represents one episode in season details
type EpisodeSummary struct {
	ID            int64    `json:"id"`
	EpisodeNumber int64    `json:"episode_number"`
	Name          string   `json:"name"`
	Overview      *string  `json:"overview"`
	StillPath     *string  `json:"still_path"`
	AirDate       *string  `json:"air_date"`
	Runtime       *int64   `json:"runtime"`
	VoteAverage   *float64 `json:"vote_average"`
}

// FindResult holds the matches for an external-id lookup
type FindResult struct {
	MovieResults []MovieSearchResult `json:"movie_results"`
	TvResults    []TvSearchResult    `json:"tv_results"`
}

// SearchMovie searches for movies by title, popularity-ordered
func (c *Client) SearchMovie(query string, year int) (SearchResponse[MovieSearchResult], error) {
	params := url.Values{}
	params.Set("query", query)
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}
	return get[SearchResponse[MovieSearchResult]](c, "/search/movie", params)
}

// SearchTv searches for TV shows by title, popularity-ordered
func (c *Client) SearchTv(query string, year int) (SearchResponse[TvSearchResult], error) {
	params := url.Values{}
	params.Set("query", query)
	if year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(year))
	}
	return get[SearchResponse[TvSearchResult]](c, "/search/tv", params)
}

// FindByImdbID resolves an IMDB id to TMDB entries
func (c *Client) FindByImdbID(imdbID string) (FindResult, error) {
	params := url.Values{}
	params.Set("external_source", "imdb_id")
	return get[FindResult](c, "/find/"+imdbID, params)
}

// GetMovieDetails fetches detailed movie info by TMDB id
func (c *Client) GetMovieDetails(movieID int64) (MovieDetails, error) {
	params := url.Values{}
	params.Set("append_to_response", "external_ids")
	return get[MovieDetails](c, fmt.Sprintf("/movie/%d", movieID), params)
}

// GetTvShowDetails fetches detailed TV show info by TMDB id
func (c *Client) GetTvShowDetails(tvID int64) (TvShowDetails, error) {
	params := url.Values{}
	params.Set("append_to_response", "external_ids")
	return get[TvShowDetails](c, fmt.Sprintf("/tv/%d", tvID), params)
}

// GetTvSeasonDetails fetches a season's full episode list
func (c *Client) GetTvSeasonDetails(tvID int64, seasonNumber int64) (SeasonDetails, error) {
	return get[SeasonDetails](c, fmt.Sprintf("/tv/%d/season/%d", tvID, seasonNumber), nil)
}

// AirYear extracts the year of a TMDB "YYYY-MM-DD" date string,
// returning 0 when the date is absent or malformed
func AirYear(date *string) int {
	if date == nil || len(*date) < 4 {
		return 0
	}
	year, err := strconv.Atoi((*date)[:4])
	if err != nil {
		return 0
	}
	return year
}

// DateToEpoch converts a TMDB "YYYY-MM-DD" date string to midnight-UTC
// epoch seconds, returning nil when the date is absent or malformed
func DateToEpoch(date *string) *int64 {
	if date == nil || *date == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", *date)
	if err != nil {
		log.Printf("ignoring malformed TMDB date %q", *date)
		return nil
	}
	epoch := t.Unix()
	return &epoch
}
