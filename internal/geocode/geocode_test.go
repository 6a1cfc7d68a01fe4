package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lensworks/aperture/internal/cache"
)

const reverseBody = `{
	"place_id": 123,
	"osm_type": "way",
	"osm_id": 456,
	"lat": "48.858400",
	"lon": "2.294500",
	"display_name": "Tour Eiffel, 5, Avenue Anatole France, Paris, France",
	"address": {
		"city": "Paris",
		"state": "Ile-de-France",
		"country": "France"
	}
}`

func testClient(t *testing.T, handler http.Handler, store *cache.Store) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-agent", "en", time.Second, store)
	c.sleep = func(time.Duration) {}
	return c
}

func testStore(t *testing.T) *cache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := cache.Open(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReverse(t *testing.T) {
	var agent string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "48.858400", r.URL.Query().Get("lat"))
		_, _ = w.Write([]byte(reverseBody))
	}), nil)

	loc, err := c.Reverse(context.Background(), 48.8584, 2.2945, "")
	require.NoError(t, err)
	require.NotNil(t, loc)

	assert.Equal(t, "Paris, Ile-de-France, France", loc.Name)
	assert.Equal(t, "Tour Eiffel, 5, Avenue Anatole France, Paris, France", loc.Address)
	assert.InDelta(t, 48.8584, loc.Lat, 1e-6)
	assert.Equal(t, int64(123), loc.PlaceID)
	assert.Equal(t, "test-agent", agent, "provider policy requires an identifying user agent")
}

func TestReverseInvalidCoordinate(t *testing.T) {
	c := New("http://unused", "a", "en", time.Second, nil)

	for _, pair := range [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -181}} {
		_, err := c.Reverse(context.Background(), pair[0], pair[1], "")
		assert.ErrorIs(t, err, ErrInvalidCoordinate)
	}
}

func TestReverseProviderFailureDegrades(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over capacity", http.StatusServiceUnavailable)
	}), nil)

	loc, err := c.Reverse(context.Background(), 48.8584, 2.2945, "")
	assert.NoError(t, err, "provider failure is absence, not error")
	assert.Nil(t, loc)
}

func TestReverseGarbageResponseDegrades(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}), nil)

	loc, err := c.Reverse(context.Background(), 48.8584, 2.2945, "")
	assert.NoError(t, err)
	assert.Nil(t, loc)
}

func TestReverseCaching(t *testing.T) {
	var calls atomic.Int64
	store := testStore(t)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(reverseBody))
	}), store)

	loc1, err := c.Reverse(context.Background(), 48.8584, 2.2945, "")
	require.NoError(t, err)
	require.NotNil(t, loc1)

	loc2, err := c.Reverse(context.Background(), 48.8584, 2.2945, "")
	require.NoError(t, err)
	require.NotNil(t, loc2)

	assert.Equal(t, int64(1), calls.Load(), "second lookup is served from cache")
	assert.Equal(t, loc1.Name, loc2.Name)
}

func TestReverseCorruptedCacheIsMiss(t *testing.T) {
	var calls atomic.Int64
	store := testStore(t)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(reverseBody))
	}), store)

	// Poison the exact key the lookup will read.
	key := cacheKey("reverse", formatCoord(48.8584), formatCoord(2.2945), "en")
	require.NoError(t, store.Set(context.Background(), key, []byte("{broken"), time.Hour))

	loc, err := c.Reverse(context.Background(), 48.8584, 2.2945, "")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, int64(1), calls.Load(), "corrupted entry falls through to the provider")

	// Out-of-range cached coordinates fail schema validation the same way.
	require.NoError(t, store.Set(context.Background(), key, []byte(`{"name":"x","address":"y","lat":999,"lon":0}`), time.Hour))
	loc, err = c.Reverse(context.Background(), 48.8584, 2.2945, "")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, int64(2), calls.Load())
}

func TestThrottleEnforcesMinimumInterval(t *testing.T) {
	c := New("http://unused", "a", "en", time.Second, nil)
	base := time.Now()
	c.now = func() time.Time { return base }

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	c.throttle("reverse")
	require.Empty(t, slept, "first call goes straight through")

	c.throttle("reverse")
	require.Len(t, slept, 1)
	assert.Equal(t, minInterval, slept[0])

	// A different operation class has its own clock.
	c.throttle("search")
	assert.Len(t, slept, 1)
}

func TestSearch(t *testing.T) {
	body := `[
		{"place_id":1,"lat":"34.052200","lon":"-118.243700","display_name":"Los Angeles, California, USA","address":{"city":"Los Angeles","state":"California","country":"USA"}},
		{"place_id":2,"lat":"37.774900","lon":"-122.419400","display_name":"San Francisco, California, USA","address":{"city":"San Francisco","state":"California","country":"USA"}}
	]`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		_, _ = w.Write([]byte(body))
	}), nil)

	locs, err := c.Search(context.Background(), "california", "", 5)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "Los Angeles, California, USA", locs[0].Name)
}

func TestNearbyOrdersByDistance(t *testing.T) {
	body := `[
		{"place_id":1,"lat":"34.052200","lon":"-118.243700","display_name":"Los Angeles","address":{"city":"Los Angeles"}},
		{"place_id":2,"lat":"37.774900","lon":"-122.419400","display_name":"San Francisco","address":{"city":"San Francisco"}}
	]`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}), nil)

	// Query point next to San Francisco: it must sort first despite coming
	// second from the provider.
	locs, err := c.Nearby(context.Background(), 37.8, -122.4, "city", "", 5)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "San Francisco", locs[0].Name)
	assert.Less(t, locs[0].DistanceKM, locs[1].DistanceKM)
}

func TestHaversine(t *testing.T) {
	// San Francisco to Los Angeles, roughly 559 km.
	d := Haversine(37.7749, -122.4194, 34.0522, -118.2437)
	assert.InDelta(t, 559, d, 5)

	assert.Zero(t, Haversine(10, 20, 10, 20))
}

func TestDisplayNameComponentChain(t *testing.T) {
	tests := []struct {
		name string
		addr map[string]string
		want string
	}{
		{
			"city state country",
			map[string]string{"city": "Paris", "state": "IDF", "country": "France"},
			"Paris, IDF, France",
		},
		{
			"town falls in for city",
			map[string]string{"town": "Giverny", "state": "Normandy", "country": "France"},
			"Giverny, Normandy, France",
		},
		{
			"village and county",
			map[string]string{"village": "Lacock", "county": "Wiltshire", "country": "UK"},
			"Lacock, Wiltshire, UK",
		},
		{
			"country only",
			map[string]string{"country": "Iceland"},
			"Iceland",
		},
		{
			"no usable components",
			map[string]string{"road": "Main St"},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, displayName(tt.addr))
		})
	}
}
