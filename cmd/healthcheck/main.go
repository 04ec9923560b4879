// Command healthcheck probes the daemon's health endpoint and exits non-zero
// when it is unreachable or degraded. It is meant for container HEALTHCHECK
// directives, where no shell or curl is available.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:8080"

func main() {
	timeout := flag.Duration("timeout", 2*time.Second, "probe timeout")
	flag.Parse()

	os.Exit(probe(healthURL(os.Getenv("AUTHENTICATOR_LISTEN_ADDR")), *timeout))
}

// probe returns 0 when target answers 200 within timeout.
func probe(target string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

// healthURL builds the probe URL from the daemon's listen address. A
// wildcard bind is probed on loopback, since the probe runs beside it.
func healthURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if listenAddr == "" || err != nil {
		host, port, _ = net.SplitHostPort(defaultAddr)
	}

	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}

	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port), Path: "/api/v1/health"}
	return u.String()
}
