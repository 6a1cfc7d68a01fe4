package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lensworks/aperture/internal/cache"
)

// ErrInvalidCoordinate is returned for out-of-range coordinates. This is the
// one place in the pipeline that raises instead of degrading: out-of-range
// input indicates an upstream bug, not absent data.
var ErrInvalidCoordinate = errors.New("geocode: coordinate out of range")

const (
	reverseTTL = 24 * time.Hour
	searchTTL  = time.Hour

	// earthRadiusKM for great-circle distance.
	earthRadiusKM = 6371.0

	// minInterval is the per-operation-class floor between provider calls,
	// per the Nominatim usage policy.
	minInterval = time.Second
)

// Location is a resolved place.
type Location struct {
	Name    string  `json:"name"`    // short display name, built from address components
	Address string  `json:"address"` // provider's full address string
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	PlaceID int64   `json:"place_id,omitempty"`
	OSMType string  `json:"osm_type,omitempty"`
	OSMID   int64   `json:"osm_id,omitempty"`

	// DistanceKM is populated by Nearby only.
	DistanceKM float64 `json:"distance_km,omitempty"`
}

// place is the provider's wire format.
type place struct {
	PlaceID     int64             `json:"place_id"`
	OSMType     string            `json:"osm_type"`
	OSMID       int64             `json:"osm_id"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
}

// Client talks to a Nominatim-compatible geocoding provider with caching and
// a minimum-interval throttle. All lookups are best-effort: provider errors
// and timeouts resolve to a nil result, never to a returned error, so a
// failed annotation can never fail the ingestion it augments.
type Client struct {
	baseURL   string
	userAgent string
	language  string
	http      *http.Client
	store     *cache.Store

	mu       sync.Mutex
	lastCall map[string]time.Time

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

func New(baseURL, userAgent, language string, timeout time.Duration, store *cache.Store) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		language:  language,
		http:      &http.Client{Timeout: timeout},
		store:     store,
		lastCall:  map[string]time.Time{},
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Reverse resolves a coordinate pair to a place. Returns (nil, nil) when the
// provider has no answer or could not be reached.
func (c *Client) Reverse(ctx context.Context, lat, lon float64, lang string) (*Location, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinate, lat, lon)
	}
	if lang == "" {
		lang = c.language
	}

	key := cacheKey("reverse", formatCoord(lat), formatCoord(lon), lang)
	if loc := c.cached(ctx, key); loc != nil {
		return loc, nil
	}

	params := url.Values{
		"lat":            {formatCoord(lat)},
		"lon":            {formatCoord(lon)},
		"format":         {"json"},
		"addressdetails": {"1"},
	}
	body, err := c.call(ctx, "reverse", "/reverse", params, lang)
	if err != nil {
		slog.Warn("reverse geocoding unavailable", "error", err)
		return nil, nil
	}

	var p place
	if err := json.Unmarshal(body, &p); err != nil || p.DisplayName == "" {
		return nil, nil
	}

	loc := fromPlace(p)
	c.put(ctx, key, loc, reverseTTL)
	return loc, nil
}

// Search performs a free-text forward-geocoding lookup.
func (c *Client) Search(ctx context.Context, query, lang string, limit int) ([]Location, error) {
	if query == "" {
		return nil, nil
	}
	if lang == "" {
		lang = c.language
	}
	if limit <= 0 {
		limit = 5
	}

	key := cacheKey("search", query, strconv.Itoa(limit), lang)
	if locs := c.cachedList(ctx, key); locs != nil {
		return locs, nil
	}

	params := url.Values{
		"q":              {query},
		"format":         {"json"},
		"addressdetails": {"1"},
		"limit":          {strconv.Itoa(limit)},
	}
	body, err := c.call(ctx, "search", "/search", params, lang)
	if err != nil {
		slog.Warn("geocoding search unavailable", "error", err)
		return nil, nil
	}

	var places []place
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, nil
	}

	locs := make([]Location, 0, len(places))
	for _, p := range places {
		if p.DisplayName == "" {
			continue
		}
		locs = append(locs, *fromPlace(p))
	}
	c.putList(ctx, key, locs, searchTTL)
	return locs, nil
}

// Nearby searches for query and orders the results by great-circle distance
// from (lat, lon), nearest first.
func (c *Client) Nearby(ctx context.Context, lat, lon float64, query, lang string, limit int) ([]Location, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinate, lat, lon)
	}

	locs, err := c.Search(ctx, query, lang, limit)
	if err != nil || locs == nil {
		return locs, err
	}

	for i := range locs {
		locs[i].DistanceKM = Haversine(lat, lon, locs[i].Lat, locs[i].Lon)
	}
	sort.SliceStable(locs, func(i, j int) bool {
		return locs[i].DistanceKM < locs[j].DistanceKM
	})
	return locs, nil
}

// call throttles, performs the HTTP GET and returns the raw body.
func (c *Client) call(ctx context.Context, class, path string, params url.Values, lang string) ([]byte, error) {
	c.throttle(class)

	params.Set("accept-language", lang)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: provider returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// throttle sleeps until at least minInterval has passed since the previous
// call of the same operation class.
func (c *Client) throttle(class string) {
	c.mu.Lock()
	last, ok := c.lastCall[class]
	now := c.now()
	var wait time.Duration
	if ok {
		if elapsed := now.Sub(last); elapsed < minInterval {
			wait = minInterval - elapsed
		}
	}
	c.lastCall[class] = now.Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		c.sleep(wait)
	}
}

// cached returns a validated cache hit or nil. An invalid payload is treated
// as a miss, never as an error.
func (c *Client) cached(ctx context.Context, key string) *Location {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil || !validLocation(loc) {
		return nil
	}
	return &loc
}

func (c *Client) cachedList(ctx context.Context, key string) []Location {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil
	}
	var locs []Location
	if err := json.Unmarshal(data, &locs); err != nil {
		return nil
	}
	for _, loc := range locs {
		if !validLocation(loc) {
			return nil
		}
	}
	return locs
}

func (c *Client) put(ctx context.Context, key string, loc *Location, ttl time.Duration) {
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil && !errors.Is(err, cache.ErrUnavailable) {
		slog.Warn("geocode cache write failed", "error", err)
	}
}

func (c *Client) putList(ctx context.Context, key string, locs []Location, ttl time.Duration) {
	data, err := json.Marshal(locs)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil && !errors.Is(err, cache.ErrUnavailable) {
		slog.Warn("geocode cache write failed", "error", err)
	}
}

// validLocation is the schema check applied to cached payloads before they
// are trusted.
func validLocation(loc Location) bool {
	if loc.Name == "" && loc.Address == "" {
		return false
	}
	return loc.Lat >= -90 && loc.Lat <= 90 && loc.Lon >= -180 && loc.Lon <= 180
}

// fromPlace converts the provider's wire format, building the short display
// name from structured address components: the most specific populated
// settlement, then the region, then the country, comma-joined. Falls back to
// the provider's full address string when no component matched.
func fromPlace(p place) *Location {
	lat, _ := strconv.ParseFloat(p.Lat, 64)
	lon, _ := strconv.ParseFloat(p.Lon, 64)

	name := displayName(p.Address)
	if name == "" {
		name = p.DisplayName
	}

	return &Location{
		Name:    name,
		Address: p.DisplayName,
		Lat:     lat,
		Lon:     lon,
		PlaceID: p.PlaceID,
		OSMType: p.OSMType,
		OSMID:   p.OSMID,
	}
}

var nameComponents = [][]string{
	{"city", "town", "village", "municipality"},
	{"state", "province", "region", "county"},
	{"country"},
}

func displayName(addr map[string]string) string {
	var parts []string
	for _, group := range nameComponents {
		for _, field := range group {
			if v := addr[field]; v != "" {
				parts = append(parts, v)
				break
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

// Haversine returns the great-circle distance between two coordinates in
// kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const deg = math.Pi / 180
	dLat := (lat2 - lat1) * deg
	dLon := (lon2 - lon1) * deg

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*deg)*math.Cos(lat2*deg)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func cacheKey(op string, args ...string) string {
	h := sha256.New()
	h.Write([]byte(op))
	for _, a := range args {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	return "geocode:" + op + ":" + hex.EncodeToString(h.Sum(nil))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
