package urlutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestOriginFromRequest_UsesRequestOrigin(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		scheme := rapid.SampledFrom([]string{"http", "https"}).Draw(rt, "scheme")
		host := fmt.Sprintf("%s.test:%d",
			rapid.StringMatching(`[a-z]{3,12}`).Draw(rt, "host"),
			rapid.IntRange(1024, 9999).Draw(rt, "port"),
		)
		req := httptest.NewRequest(http.MethodGet, scheme+"://"+host+"/rss/abc/1", nil)
		req.Header.Set("X-Forwarded-Proto", scheme)

		if got := OriginFromRequest(req, "http://fallback.test"); got != scheme+"://"+host {
			rt.Fatalf("origin: got=%s want=%s://%s", got, scheme, host)
		}
	})
}

func TestOriginFromRequest_Forwarded(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8484/rss/abc/1", nil)
	req.Header.Set("X-Forwarded-Proto", "https, http")
	req.Header.Set("X-Forwarded-Host", "gaps.example.test")
	assert.Equal(t, "https://gaps.example.test", OriginFromRequest(req, ""))

	req.Header.Set("X-Forwarded-Proto", "ftp")
	assert.Equal(t, "http://gaps.example.test", OriginFromRequest(req, ""), "unknown protocols fall back to the connection's")
}

func TestOriginFromRequest_Fallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://gaps.test/rssCheck", nil)
	req.Host = ""
	assert.Equal(t, "http://fallback.test", OriginFromRequest(req, "http://fallback.test/"))
	assert.Equal(t, "http://fallback.test", OriginFromRequest(nil, " http://fallback.test "))
}

func TestBuildAbsolute(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"http://gaps.test/", "", "http://gaps.test"},
		{"http://gaps.test", "/recommended", "http://gaps.test/recommended"},
		{"http://gaps.test/", "posters/a.png", "http://gaps.test/posters/a.png"},
		{"http://gaps.test", "https://cdn.test/a.png", "https://cdn.test/a.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BuildAbsolute(tt.base, tt.path), "BuildAbsolute(%q, %q)", tt.base, tt.path)
	}
}

func TestBuildAbsolute_AlwaysParses(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := "http://" + rapid.StringMatching(`[a-z]{3,12}`).Draw(rt, "host") + ".test"
		if rapid.Bool().Draw(rt, "slash") {
			base += "/"
		}
		path := rapid.StringMatching(`/?[a-z]{0,8}(/[a-z]{1,8})?`).Draw(rt, "path")

		got := BuildAbsolute(base, path)
		u, err := url.Parse(got)
		if err != nil || !u.IsAbs() {
			rt.Fatalf("BuildAbsolute(%q, %q) = %q is not absolute: %v", base, path, got, err)
		}
		if strings.Contains(strings.TrimPrefix(got, "http://"), "//") {
			rt.Fatalf("double slash in %q", got)
		}
	})
}

func TestWithQuery(t *testing.T) {
	assert.Equal(t, "/recommended", WithQuery("/recommended", nil))
	assert.Equal(t, "/recommended?key=1&machineId=abc",
		WithQuery("/recommended", url.Values{"machineId": {"abc"}, "key": {"1"}}))
	assert.Equal(t, "/x?a=1&b=2", WithQuery("/x?a=1", url.Values{"b": {"2"}}))
}
