package recognition

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"parkly/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, calls *atomic.Int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/process_image", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		f, _, err := r.FormFile("img_file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			assert.Equal(t, "jpeg-bytes", string(data))
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecognize(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, &calls, http.StatusOK, `{"result":" ab1234 "}`)

	c := NewClient(srv.URL+"/", time.Second)
	plate, err := c.Recognize(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "ab1234", plate)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRecognize_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"empty result", http.StatusOK, `{"result":""}`},
		{"bad json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := newServer(t, &calls, tt.status, tt.body)
			_, err := NewClient(srv.URL, time.Second).Recognize(context.Background(), []byte("jpeg-bytes"))
			assert.ErrorIs(t, err, models.ErrRecognitionFailed)
		})
	}

	_, err := NewClient("http://127.0.0.1:1", time.Second).Recognize(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrRecognitionFailed)
}

func TestRecognize_RedisCache(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, &calls, http.StatusOK, `{"result":"AB1234"}`)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewClient(srv.URL, time.Second)
	c.UseRedisCache(rdb, time.Minute)

	for i := 0; i < 3; i++ {
		plate, err := c.Recognize(context.Background(), []byte("jpeg-bytes"))
		require.NoError(t, err)
		assert.Equal(t, "AB1234", plate)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, mr.Keys(), 1)
}
