package server_test

import (
	"testing"

	"github.com/4chain-ag/go-pollr-overlay/pkg/server"
	"github.com/4chain-ag/go-pollr-overlay/pkg/server/internal/testabilities"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestServerHTTP_Metrics(t *testing.T) {
	// given:
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "overlay_test_total", Help: "test counter"})
	registry.MustRegister(counter)
	counter.Inc()

	fixture := server.NewServerTestFixture(t, server.WithMetrics(registry))

	// when:
	res, _ := fixture.Client().R().Get("/metrics")

	// then:
	require.Equal(t, fiber.StatusOK, res.StatusCode())
	require.Contains(t, res.String(), "overlay_test_total 1")
}

func TestServerHTTP_MetricsDisabled(t *testing.T) {
	// given:
	fixture := server.NewServerTestFixture(t)

	// when:
	res, _ := fixture.Client().R().Get("/metrics")

	// then:
	require.Equal(t, fiber.StatusNotFound, res.StatusCode())
}

func TestServerHTTP_HealthCheck(t *testing.T) {
	// given:
	fixture := server.NewServerTestFixture(t)

	// when:
	res, _ := fixture.Client().R().Get("/livez")

	// then:
	require.Equal(t, fiber.StatusOK, res.StatusCode())
}

func TestServerHTTP_CORS(t *testing.T) {
	// given:
	stub := testabilities.NewTestOverlayEngineStub(t)
	stub.ListTopicManagersFunc = func() map[string]*overlay.MetaData { return nil }
	fixture := server.NewServerTestFixture(t, server.WithEngine(stub))

	// when:
	res, _ := fixture.Client().
		R().
		SetHeader(fiber.HeaderOrigin, "https://wallet.example").
		Get("/listTopicManagers")

	// then:
	require.Equal(t, fiber.StatusOK, res.StatusCode())
	require.Equal(t, "*", res.Header().Get(fiber.HeaderAccessControlAllowOrigin))
	require.Equal(t, "{}", res.String())
}

func TestServerHTTP_CustomMiddleware(t *testing.T) {
	// given:
	var visited bool
	fixture := server.NewServerTestFixture(t, server.WithMiddleware(func(c *fiber.Ctx) error {
		visited = true
		return c.Next()
	}))

	// when:
	res, _ := fixture.Client().R().Get("/listLookupServiceProviders")

	// then:
	require.Equal(t, fiber.StatusOK, res.StatusCode())
	require.True(t, visited)
}
