package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_Success(t *testing.T) {
	var gotHeaders http.Header
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody = make([]byte, r.ContentLength)
		r.Body.Read(gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "5YJ3E1EA7LF000001")
	err := c.Send(context.Background(), []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	assert.Equal(t, "application/octet-stream", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "true", gotHeaders.Get("X-Compressed"))
	assert.Equal(t, "5YJ3E1EA7LF000001", gotHeaders.Get("X-Vehicle-VIN"))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, gotBody)
}

func TestSend_PermanentFailureOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "vin")
	err := c.Send(context.Background(), []byte{0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermanentFailure))
}

func TestSend_TransientFailureOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "vin")
	err := c.Send(context.Background(), []byte{0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientFailure))
}

func TestSend_TransientFailureOnRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "vin")
	err := c.Send(context.Background(), []byte{0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientFailure))
}

func TestSend_TransientFailureOnRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
	}))
	defer srv.Close()

	c := New(srv.URL, "vin")
	err := c.Send(context.Background(), []byte{0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientFailure))
}

func TestSend_TransientFailureOnNetworkError(t *testing.T) {
	c := New("http://127.0.0.1:0", "vin")
	err := c.Send(context.Background(), []byte{0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientFailure))
}
