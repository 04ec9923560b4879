package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthURL(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want string
	}{
		{name: "empty", addr: "", want: "http://127.0.0.1:8080/api/v1/health"},
		{name: "loopback", addr: "127.0.0.1:9000", want: "http://127.0.0.1:9000/api/v1/health"},
		{name: "all interfaces", addr: "0.0.0.0:9000", want: "http://127.0.0.1:9000/api/v1/health"},
		{name: "port only", addr: ":9000", want: "http://127.0.0.1:9000/api/v1/health"},
		{name: "ipv6 wildcard", addr: "[::]:9000", want: "http://[::1]:9000/api/v1/health"},
		{name: "malformed", addr: "nonsense", want: "http://127.0.0.1:8080/api/v1/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, healthURL(tt.addr))
		})
	}
}

func TestProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	assert.Equal(t, 0, probe(srv.URL, time.Second))

	status.Store(http.StatusServiceUnavailable)
	assert.Equal(t, 1, probe(srv.URL, time.Second))

	srv.Close()
	assert.Equal(t, 1, probe(srv.URL, time.Second))
}
