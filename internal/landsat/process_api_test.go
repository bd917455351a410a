package landsat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"abc","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/process", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestSource(t *testing.T, srv *httptest.Server) *ProcessAPISource {
	dir := NewDirectorySource(t.TempDir(), map[string][]string{catalog: {"SR_B4", "SR_B5", "QA_PIXEL"}}, nil)
	return &ProcessAPISource{
		Dir:          dir,
		URL:          srv.URL + "/process",
		TokenURL:     srv.URL + "/token",
		Credentials:  []Credential{{ClientID: "id", ClientSecret: "secret"}},
		IntervalDays: 10,
		Resolution:   30,
		Retries:      3,
		RetryDelay:   time.Millisecond,
	}
}

func monthRange() raster.DateRange {
	return raster.DateRange{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestSyncDownloadsEachWindowOnce(t *testing.T) {
	var calls atomic.Int32
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Contains(t, payload["evalscript"], "sample.B04")
		_, _ = w.Write([]byte("tiff"))
	})
	src := newTestSource(t, srv)

	n, err := src.Sync(context.Background(), catalog, testAOI(t), monthRange())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), calls.Load())

	_, err = os.Stat(filepath.Join(src.Dir.CatalogDir(catalog), "LANDSAT_LC08_C02_T1_L2_2023-01-11.tif"))
	assert.NoError(t, err)

	n, err = src.Sync(context.Background(), catalog, testAOI(t), monthRange())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSyncRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	src := newTestSource(t, srv)
	src.IntervalDays = 30

	n, err := src.Sync(context.Background(), catalog, testAOI(t), monthRange())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSyncStopsOnUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	src := newTestSource(t, srv)

	_, err := src.Sync(context.Background(), catalog, testAOI(t), monthRange())
	assert.ErrorIs(t, err, errUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSyncHonoursCancellation(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	src := newTestSource(t, srv)
	src.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.Sync(ctx, catalog, testAOI(t), monthRange())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSyncDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown band", http.StatusBadRequest)
	})
	src := newTestSource(t, srv)
	src.Credentials = append(src.Credentials, Credential{ClientID: "other", ClientSecret: "secret"})

	_, err := src.Sync(context.Background(), catalog, testAOI(t), monthRange())
	require.Error(t, err)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSyncRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	src := newTestSource(t, srv)
	src.IntervalDays = 30

	_, err := src.Sync(context.Background(), catalog, testAOI(t), monthRange())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSyncRequiresAOI(t *testing.T) {
	srv := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	src := newTestSource(t, srv)

	_, err := src.Sync(context.Background(), catalog, nil, monthRange())
	assert.ErrorIs(t, err, raster.ErrInvalidInput)
}

func TestEvalscriptRequestsDigitalNumbers(t *testing.T) {
	script := evalscript([]string{"SR_B4", "SR_B5", "QA_PIXEL"})

	assert.Contains(t, script, `input: [{ bands: ["B04", "B05", "BQA"], units: "DN" }]`)
	assert.Contains(t, script, "bands: 3")
	assert.Contains(t, script, "return [sample.B04, sample.B05, sample.BQA];")
	assert.NotContains(t, script, "QA_PIXEL")
}

func TestAPIBandName(t *testing.T) {
	assert.Equal(t, "B04", apiBandName("SR_B4"))
	assert.Equal(t, "BQA", apiBandName("QA_PIXEL"))
	assert.Equal(t, "ST_B10", apiBandName("ST_B10"))
}
