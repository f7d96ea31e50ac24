package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><p>Hello from %s</p><p>ua=%s</p><p>lang=%s</p></body></html>",
			r.URL.Path, r.Header.Get("User-Agent"), r.Header.Get("Accept-Language"))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"answer":42}`)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "slow body text")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOne_HTML(t *testing.T) {
	srv := newPageServer(t)
	f := New(nil, Config{})

	src := f.FetchOne(context.Background(), srv.URL+"/page")
	if !src.OK() {
		t.Fatalf("FetchOne error: %s", src.Err)
	}
	if !strings.Contains(src.Content, "Hello from /page") {
		t.Errorf("content = %q", src.Content)
	}
	if !strings.Contains(src.Content, "Chrome/120") {
		t.Errorf("browser User-Agent not sent: %q", src.Content)
	}
	if !strings.Contains(src.Content, "lang=ko-KR") {
		t.Errorf("Accept-Language not sent: %q", src.Content)
	}
}

func TestFetchOne_JSON(t *testing.T) {
	srv := newPageServer(t)

	src := New(nil, Config{}).FetchOne(context.Background(), srv.URL+"/data")
	if !src.OK() || !strings.Contains(src.Content, `"answer": 42`) {
		t.Errorf("got %+v", src)
	}
}

func TestFetchOne_Errors(t *testing.T) {
	srv := newPageServer(t)
	f := New(nil, Config{})

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"status", srv.URL + "/missing", "status 404 Not Found"},
		{"scheme", "ftp://example.com/x", "invalid url"},
		{"garbage", "::not a url", "invalid url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := f.FetchOne(context.Background(), tt.url)
			if src.OK() {
				t.Fatal("expected failure")
			}
			if !strings.Contains(src.Err, tt.want) {
				t.Errorf("Err = %q, want it to contain %q", src.Err, tt.want)
			}
			if src.URL != tt.url {
				t.Errorf("URL = %q, want %q", src.URL, tt.url)
			}
		})
	}
}

func TestFetchOne_Timeout(t *testing.T) {
	srv := newPageServer(t)
	f := New(nil, Config{Timeout: 10 * time.Millisecond})

	if src := f.FetchOne(context.Background(), srv.URL+"/slow"); src.OK() {
		t.Error("expected timeout failure")
	}
}

func TestFetchMany_PreservesOrder(t *testing.T) {
	srv := newPageServer(t)
	urls := []string{srv.URL + "/slow", "not-a-url", srv.URL + "/page", srv.URL + "/missing"}

	got := New(nil, Config{Concurrency: 2}).FetchMany(context.Background(), urls)
	if len(got) != len(urls) {
		t.Fatalf("got %d results, want %d", len(got), len(urls))
	}
	for i, src := range got {
		if src.URL != urls[i] {
			t.Errorf("result %d URL = %q, want %q", i, src.URL, urls[i])
		}
	}
	wantOK := []bool{true, false, true, false}
	for i, ok := range wantOK {
		if got[i].OK() != ok {
			t.Errorf("result %d OK = %v, want %v (err %q)", i, got[i].OK(), ok, got[i].Err)
		}
	}
}

func TestFetchMany_ValidThenInvalid(t *testing.T) {
	srv := newPageServer(t)

	got := New(nil, Config{}).FetchMany(context.Background(), []string{srv.URL + "/page", "http://"})
	if !got[0].OK() || got[0].Content == "" {
		t.Errorf("first = %+v, want content", got[0])
	}
	if got[1].OK() {
		t.Errorf("second = %+v, want error", got[1])
	}
}

func TestFetchMany_RespectsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		fmt.Fprint(w, "ok body")
	}))
	defer srv.Close()

	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/%d", srv.URL, i)
	}
	New(nil, Config{Concurrency: 2}).FetchMany(context.Background(), urls)
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestFetchMany_Empty(t *testing.T) {
	if got := New(nil, Config{}).FetchMany(context.Background(), nil); len(got) != 0 {
		t.Errorf("got %d results, want 0", len(got))
	}
}
