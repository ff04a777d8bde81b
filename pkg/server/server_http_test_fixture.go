package server

import (
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

// fiberRoundTripper routes requests through the in-memory Fiber test server.
type fiberRoundTripper struct {
	t       *testing.T
	srv     *ServerHTTP
	timeout int
}

func (f *fiberRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.t.Helper()
	return f.srv.app.Test(req, f.timeout)
}

// ServerTestFixture provides an isolated test fixture for executing HTTP requests
// against a fully initialized server instance using in-memory transport.
type ServerTestFixture struct {
	t            *testing.T
	roundTripper http.RoundTripper
}

// Client returns a Resty client that uses the in-memory test server.
// It fails the test on unexpected transport errors.
func (f *ServerTestFixture) Client() *resty.Client {
	f.t.Helper()

	c := resty.New()
	c.OnError(func(r *resty.Request, err error) {
		require.NoError(f.t, err, "HTTP request ended with unexpected error")
	})
	c.GetClient().Transport = f.roundTripper

	return c
}

// HTTPClient returns a plain HTTP client over the in-memory test server, usable wherever
// the overlay talks to peers.
func (f *ServerTestFixture) HTTPClient() *http.Client {
	return &http.Client{Transport: f.roundTripper}
}

// NewServerTestFixture creates a new test fixture with a fully initialized server instance.
func NewServerTestFixture(t *testing.T, opts ...ServerOption) *ServerTestFixture {
	return &ServerTestFixture{
		t: t,
		roundTripper: &fiberRoundTripper{
			t:       t,
			timeout: -1,
			srv:     New(append([]ServerOption{WithConfig(testConfig())}, opts...)...),
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessLog = false
	return cfg
}
