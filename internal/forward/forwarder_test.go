package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"cors-proxy-go/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func targetFor(t *testing.T, raw string) *model.TargetURL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return &model.TargetURL{URL: u}
}

// noRedirectClient mirrors the production client config without transport tuning.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestForward_NoRedirect(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer X" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer X")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f := NewForwarderWithClient(noRedirectClient(), 5, discardLogger())
	header := http.Header{"Authorization": {"Bearer X"}}

	result, err := f.Forward(context.Background(), http.MethodGet, targetFor(t, upstream.URL), header, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", result.StatusCode, http.StatusOK)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", result.Body)
	}
	if result.Redirects != 0 {
		t.Errorf("Redirects = %d, want 0", result.Redirects)
	}
}

func TestForward_307PreservesAuthAndBody(t *testing.T) {
	var finalMethod, finalAuth, finalBody string
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finalMethod = r.Method
		finalAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		finalBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer final.Close()

	// Redirect hop on a different host:port than the final target.
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", final.URL+"/moved")
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer first.Close()

	f := NewForwarderWithClient(noRedirectClient(), 5, discardLogger())
	header := http.Header{"Authorization": {"Bearer X"}}

	result, err := f.Forward(context.Background(), http.MethodPost, targetFor(t, first.URL), header, []byte(`{"name":"a"}`))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if result.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", result.StatusCode, http.StatusCreated)
	}
	if finalMethod != http.MethodPost {
		t.Errorf("method after 307 = %q, want POST", finalMethod)
	}
	if finalAuth != "Bearer X" {
		t.Errorf("Authorization after cross-host 307 = %q, want %q", finalAuth, "Bearer X")
	}
	if finalBody != `{"name":"a"}` {
		t.Errorf("body after 307 = %q, want preserved", finalBody)
	}
	if result.Redirects != 1 {
		t.Errorf("Redirects = %d, want 1", result.Redirects)
	}
}

func TestForward_302RewritesToGET(t *testing.T) {
	var finalMethod string
	var finalBodyLen int64
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finalMethod = r.Method
		finalBodyLen = r.ContentLength
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", final.URL)
		w.WriteHeader(http.StatusFound)
	}))
	defer first.Close()

	f := NewForwarderWithClient(noRedirectClient(), 5, discardLogger())

	_, err := f.Forward(context.Background(), http.MethodPost, targetFor(t, first.URL), http.Header{}, []byte("payload"))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if finalMethod != http.MethodGet {
		t.Errorf("method after 302 = %q, want GET", finalMethod)
	}
	if finalBodyLen > 0 {
		t.Errorf("body after 302 has length %d, want dropped", finalBodyLen)
	}
}

func TestForward_RelativeLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/moved")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("landed"))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	f := NewForwarderWithClient(noRedirectClient(), 5, discardLogger())

	result, err := f.Forward(context.Background(), http.MethodGet, targetFor(t, upstream.URL+"/start"), http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if string(result.Body) != "landed" {
		t.Errorf("Body = %q, want %q", result.Body, "landed")
	}
}

func TestForward_RedirectBoundReturnsLastResponse(t *testing.T) {
	var mu http.ServeMux
	upstream := httptest.NewServer(&mu)
	defer upstream.Close()
	mu.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", upstream.URL+"/loop")
		w.WriteHeader(http.StatusFound)
	})

	f := NewForwarderWithClient(noRedirectClient(), 3, discardLogger())

	result, err := f.Forward(context.Background(), http.MethodGet, targetFor(t, upstream.URL), http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward: %v (redirect exhaustion must not be an error)", err)
	}
	if result.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", result.StatusCode, http.StatusFound)
	}
	if result.Redirects != 3 {
		t.Errorf("Redirects = %d, want 3", result.Redirects)
	}
	if result.Header.Get("Location") == "" {
		t.Error("final redirect response lost its Location header")
	}
}

func TestForward_RedirectWithoutLocation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer upstream.Close()

	f := NewForwarderWithClient(noRedirectClient(), 5, discardLogger())

	result, err := f.Forward(context.Background(), http.MethodGet, targetFor(t, upstream.URL), http.Header{}, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if result.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want %d", result.StatusCode, http.StatusMovedPermanently)
	}
	if result.Redirects != 0 {
		t.Errorf("Redirects = %d, want 0", result.Redirects)
	}
}

// failingDoer always returns a transport error.
type failingDoer struct{ err error }

func (d *failingDoer) Do(_ *http.Request) (*http.Response, error) {
	return nil, d.err
}

func TestForward_NetworkFailurePropagates(t *testing.T) {
	wantErr := errors.New("connection refused")
	f := NewForwarderWithClient(&failingDoer{err: wantErr}, 5, discardLogger())

	_, err := f.Forward(context.Background(), http.MethodGet, targetFor(t, "https://api.example.com/v1"), http.Header{}, nil)
	if err == nil {
		t.Fatal("Forward succeeded, want error")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want wrapped %v", err, wantErr)
	}
}

// countingDoer records every request it sees.
type countingDoer struct {
	requests []*http.Request
	respond  func(n int, req *http.Request) *http.Response
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	n := len(d.requests)
	d.requests = append(d.requests, req)
	return d.respond(n, req), nil
}

func fakeResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestForward_HeadersIdenticalOnEveryHop(t *testing.T) {
	doer := &countingDoer{
		respond: func(n int, _ *http.Request) *http.Response {
			if n < 2 {
				return fakeResponse(http.StatusPermanentRedirect,
					http.Header{"Location": {fmt.Sprintf("https://hop%d.example.net/", n+1)}}, "")
			}
			return fakeResponse(http.StatusOK, nil, "done")
		},
	}
	f := NewForwarderWithClient(doer, 5, discardLogger())

	header := http.Header{
		"Authorization": {"Bearer X"},
		"If-Match":      {`"etag"`},
	}
	result, err := f.Forward(context.Background(), http.MethodPut, targetFor(t, "https://hop0.example.net/"), header, []byte("v"))
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if result.Redirects != 2 {
		t.Fatalf("Redirects = %d, want 2", result.Redirects)
	}
	if len(doer.requests) != 3 {
		t.Fatalf("hops = %d, want 3", len(doer.requests))
	}
	for i, req := range doer.requests {
		if got := req.Header.Get("Authorization"); got != "Bearer X" {
			t.Errorf("hop %d Authorization = %q, want %q", i, got, "Bearer X")
		}
		if got := req.Header.Get("If-Match"); got != `"etag"` {
			t.Errorf("hop %d If-Match = %q", i, got)
		}
		if req.Method != http.MethodPut {
			t.Errorf("hop %d method = %q, want PUT (308 preserves)", i, req.Method)
		}
	}
}
