package worldtime_client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 30, 15, 250_000_000, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UTCEndpoint, r.URL.Path)
		assert.Equal(t, JsonContentType, r.Header.Get(AcceptHeader))
		w.Header().Set("Content-Type", JsonContentType)
		_, _ = w.Write([]byte(`{"utc_datetime":"` + want.Format(time.RFC3339Nano) + `","unixtime":` + "1772368215" + `}`))
	}))
	defer srv.Close()

	got, err := NewWorldTimeClient(srv.URL).CurrentTime(context.Background())
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %s", got)
}

func TestCurrentTimeErrors(t *testing.T) {
	t.Run("non 2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewWorldTimeClient(srv.URL).CurrentTime(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("payload without instant", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"timezone":"Etc/UTC"}`))
		}))
		defer srv.Close()

		_, err := NewWorldTimeClient(srv.URL).CurrentTime(context.Background())
		require.Error(t, err)
	})
}

func TestTimeResponseInstantFallsBackToUnixtime(t *testing.T) {
	got, err := TimeResponse{Unixtime: 1700000000}.Instant()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, err = TimeResponse{UnixtimeMs: 1700000000123}.Instant()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), got.UnixMilli())
}

func TestDateHeaderTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 30, 15, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set(DateHeader, want.Format(http.TimeFormat))
	}))
	defer srv.Close()

	got, err := NewWorldTimeClient(srv.URL).DateHeaderTime(context.Background())
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}
