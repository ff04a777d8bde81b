package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidHostingURL(t *testing.T) {
	tests := map[string]struct {
		url      string
		expected bool
	}{
		"https domain":          {url: "https://overlay.example.com", expected: true},
		"https domain and port": {url: "https://overlay.example.com:8443/api", expected: true},
		"public ipv4":           {url: "https://1.2.3.4", expected: true},
		"172.15 is public":      {url: "https://172.15.0.1", expected: true},
		"172.32 is public":      {url: "https://172.32.0.1", expected: true},
		"empty":                 {url: "", expected: false},
		"plain http":            {url: "http://overlay.example.com", expected: false},
		"no scheme":             {url: "overlay.example.com", expected: false},
		"other scheme":          {url: "ftp://overlay.example.com", expected: false},
		"localhost":             {url: "https://localhost:8080", expected: false},
		"localhost uppercase":   {url: "https://LOCALHOST", expected: false},
		"localhost subdomain":   {url: "https://node.localhost", expected: false},
		"loopback":              {url: "https://127.1.2.3", expected: false},
		"ipv6 loopback":         {url: "https://[::1]:8080", expected: false},
		"private 10":            {url: "https://10.0.0.1", expected: false},
		"private 192.168":       {url: "https://192.168.1.1", expected: false},
		"private 172.16":        {url: "https://172.16.0.1", expected: false},
		"private 172.31":        {url: "https://172.31.255.255", expected: false},
		"unspecified":           {url: "https://0.0.0.0", expected: false},
		"link local":            {url: "https://169.254.10.10", expected: false},
		"missing host":          {url: "https://", expected: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, IsValidHostingURL(tc.url))
		})
	}
}

func FuzzIsValidHostingURL(f *testing.F) {
	f.Add("https://example.com")
	f.Add("https://example.com:8080/path")
	f.Add("http://example.com")
	f.Add("https://localhost")
	f.Add("https://[::1]")
	f.Add("https://::1")
	f.Add("https://192.168.0.1:3000")
	f.Add("https://[")
	f.Add("https://[:]")
	f.Add("://example.com")
	f.Add("https://256.256.256.256")

	f.Fuzz(func(t *testing.T, url string) {
		result := IsValidHostingURL(url)

		if url == "" && result {
			t.Errorf("IsValidHostingURL(%q) returned true for an empty string", url)
		}
		if strings.HasPrefix(url, "http:") && result {
			t.Errorf("IsValidHostingURL(%q) returned true for an http URL", url)
		}
	})
}
