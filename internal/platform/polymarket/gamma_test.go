package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

const listingJSON = `[
	{"id":"501","question":"Will it rain?","outcomePrices":"[\"0.4\",\"0.6\"]","volume24hr":1200.5,"active":true,"closed":false},
	{"id":502,"question":"Numeric id","outcomePrices":["0.1","0.9"],"volume24hrClob":"10","volume24hrAmm":5,"active":"true","closed":"false"},
	"garbage"
]`

func TestFetchActiveListings_ArrayResponse(t *testing.T) {
	var gotQuery, gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listingJSON))
	}))
	defer srv.Close()

	client := NewGammaClient(GammaConfig{BaseURL: srv.URL, UserAgent: "test-agent", EndDateBefore: "2026-12-31"})
	records, err := client.FetchActiveListings(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Contains(t, gotQuery, "active=true")
	assert.Contains(t, gotQuery, "closed=false")
	assert.Contains(t, gotQuery, "limit=200")
	assert.Contains(t, gotQuery, "end_date_before=2026-12-31")
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "application/json", gotAccept)

	first := records[0]
	assert.Equal(t, "501", first.ID)
	assert.True(t, first.Volume24hr.Set)
	assert.InDelta(t, 1200.5, first.Volume24hr.Value, 1e-9)
	assert.True(t, first.IsActive())
	assert.False(t, first.IsClosed())
	assert.NoError(t, first.DecodeErr)

	second := records[1]
	assert.Equal(t, "502", second.ID)
	assert.False(t, second.Volume24hr.Set)
	assert.InDelta(t, 10, second.Volume24hrClob.Value, 1e-9)
	assert.InDelta(t, 5, second.Volume24hrAmm.Value, 1e-9)
	assert.True(t, second.IsActive())

	assert.Error(t, records[2].DecodeErr)
}

func TestFetchActiveListings_WrappedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"markets":[{"id":"1","question":"q","outcomePrices":"[\"0.5\",\"0.5\"]","volume24hr":3}]}`))
	}))
	defer srv.Close()

	records, err := NewGammaClient(GammaConfig{BaseURL: srv.URL}).FetchActiveListings(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].ID)
}

func TestFetchActiveListings_Non2xxIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	_, err := NewGammaClient(GammaConfig{BaseURL: srv.URL}).FetchActiveListings(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestFetchActiveListings_RateLimitedKeepsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGammaClient(GammaConfig{BaseURL: srv.URL}).FetchActiveListings(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestFetchActiveListings_UnrecognisedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer srv.Close()

	_, err := NewGammaClient(GammaConfig{BaseURL: srv.URL}).FetchActiveListings(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestFetchActiveListings_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewGammaClient(GammaConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.FetchActiveListings(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestFetchActiveListings_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewGammaClient(GammaConfig{BaseURL: url}).FetchActiveListings(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestNumber_Unmarshal(t *testing.T) {
	var rec RawMarketRecord
	require.NoError(t, rec.UnmarshalJSON([]byte(`{"id":"x","volume":"abc","volume24hr":null,"volume24hrClob":" 7.5 "}`)))
	assert.False(t, rec.Volume.Set)
	assert.False(t, rec.Volume24hr.Set)
	assert.True(t, rec.Volume24hrClob.Set)
	assert.InDelta(t, 7.5, rec.Volume24hrClob.Value, 1e-9)
}

func TestNumber_NonFiniteStringsAreUnset(t *testing.T) {
	for _, in := range []string{`"NaN"`, `"Infinity"`, `"-Infinity"`, `"Inf"`, `"+Inf"`, `"1e400"`} {
		var n Number
		require.NoError(t, n.UnmarshalJSON([]byte(in)), in)
		assert.False(t, n.Set, in)
	}

	var n Number
	require.NoError(t, n.UnmarshalJSON([]byte(`"12.5"`)))
	assert.True(t, n.Set)
	assert.InDelta(t, 12.5, n.Value, 1e-9)
}
