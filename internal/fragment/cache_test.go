package fragment

import (
	"fmt"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/dashboard/", "/dashboard"},
		{"admin/servers", "/admin/servers"},
		{"/settings?tab=2#top", "/settings"},
		{"http://panel.local/admin/nodes//", "/admin/nodes"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEndpointRoundTrip(t *testing.T) {
	if got := EndpointPath(DefaultEndpoint, "/admin/servers/"); got != "/api/page-content/admin/servers" {
		t.Errorf("EndpointPath = %q", got)
	}
	if got := EndpointPath(DefaultEndpoint+"/", "/"); got != "/api/page-content/" {
		t.Errorf("EndpointPath root = %q", got)
	}
	if p, ok := RoutePath(DefaultEndpoint, "/api/page-content/admin/servers"); !ok || p != "/admin/servers" {
		t.Errorf("RoutePath = %q, %v", p, ok)
	}
	if p, ok := RoutePath(DefaultEndpoint, "/api/page-content"); !ok || p != "/" {
		t.Errorf("RoutePath root = %q, %v", p, ok)
	}
	if _, ok := RoutePath(DefaultEndpoint, "/api/page-contents/x"); ok {
		t.Error("expected prefix mismatch")
	}
}

func TestCacheConfirmedLRU(t *testing.T) {
	c := NewCache(2)
	c.Put("/a", &Fragment{Title: "a"})
	c.Put("/b", &Fragment{Title: "b"})
	c.Get("/a")
	c.Put("/c", &Fragment{Title: "c"})

	if _, ok := c.Get("/b"); ok {
		t.Error("expected /b evicted as least recently used")
	}
	if f, ok := c.Get("/a"); !ok || f.Title != "a" {
		t.Errorf("expected /a kept, got %v %v", f, ok)
	}
	s := c.Stats()
	if s.Evictions != 1 || s.Confirmed != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestCacheSpeculativeNeverShadowsConfirmed(t *testing.T) {
	c := NewCache(0)
	c.PutSpeculative("/a", Entry{Fragment: &Fragment{Title: "warm"}, StoredAt: time.Now()})
	c.Put("/a", &Fragment{Title: "confirmed"})

	if _, ok := c.GetSpeculative("/a"); ok {
		t.Error("confirmed put must drop the speculative entry")
	}
	if c.PutSpeculative("/a", Entry{Fragment: &Fragment{}}) {
		t.Error("speculative write for a confirmed path must be refused")
	}
	if !c.Resolved("/a") {
		t.Error("expected /a resolved")
	}
}

func TestCachePromote(t *testing.T) {
	c := NewCache(0)
	c.PutSpeculative("/servers", Entry{Fragment: &Fragment{Title: "Servers"}, Source: "hover"})

	f, ok := c.Promote("/servers")
	if !ok || f.Title != "Servers" {
		t.Fatalf("Promote = %v, %v", f, ok)
	}
	if c.SpeculativeLen() != 0 || c.Len() != 1 {
		t.Errorf("speculative=%d confirmed=%d", c.SpeculativeLen(), c.Len())
	}
	if _, ok := c.Promote("/servers"); ok {
		t.Error("second promote should miss")
	}
}

func TestCacheDeleteSpeculative(t *testing.T) {
	c := NewCache(0)
	for i := range 5 {
		c.PutSpeculative(fmt.Sprintf("/p%d", i), Entry{Fragment: &Fragment{}})
	}
	if n := c.DeleteSpeculative("/p0", "/p1", "/missing"); n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if c.SpeculativeLen() != 3 {
		t.Errorf("speculative len = %d", c.SpeculativeLen())
	}
}
