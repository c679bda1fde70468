package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://donnelly.test"

// stubFetcher 按 URL 返回预设响应，记录调用次数，可以模拟断网或永不返回的请求。
type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]*Response
	offline   bool
	failURLs  map[string]bool
	block     chan struct{}
	calls     map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: make(map[string]*Response),
		failURLs:  make(map[string]bool),
		calls:     make(map[string]int),
	}
}

func (f *stubFetcher) respond(rawURL string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[rawURL] = &Response{Status: status, Header: http.Header{"Content-Type": {"text/plain"}}, Body: []byte(body)}
}

func (f *stubFetcher) setOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

func (f *stubFetcher) fail(rawURL string) {
	f.mu.Lock()
	f.failURLs[rawURL] = true
	f.mu.Unlock()
}

func (f *stubFetcher) blockUntil(ch chan struct{}) {
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
}

func (f *stubFetcher) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *stubFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	key := req.URL.String()
	f.mu.Lock()
	f.calls[key]++
	block := f.block
	offline := f.offline || f.failURLs[key]
	resp := f.responses[key]
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if offline {
		return nil, errors.New("dial tcp: connection refused")
	}
	if resp == nil {
		return &Response{Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	return resp.Clone(), nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testGenerations() Generations {
	return NewGenerations("donnelly-adventures", "donnelly-images", "v1")
}

func newTestWorker(t *testing.T, storage Storage, fetcher Fetcher, mutate ...func(*Options)) *Worker {
	t.Helper()
	opts := Options{
		Name:        "donnelly",
		Generations: testGenerations(),
		Precache: []string{
			testOrigin + "/",
			testOrigin + "/index.html",
			testOrigin + "/california-2026.html",
		},
		OfflineURL: testOrigin + "/california-2026.html",
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	w, err := NewWorker(opts, storage, fetcher, testLogger())
	require.NoError(t, err)
	t.Cleanup(w.Wait)
	return w
}

func seedPrecache(f *stubFetcher) {
	f.respond(testOrigin+"/", http.StatusOK, "<html>home</html>")
	f.respond(testOrigin+"/index.html", http.StatusOK, "<html>index</html>")
	f.respond(testOrigin+"/california-2026.html", http.StatusOK, "<html>offline itinerary</html>")
}

func mustRequest(t *testing.T, method, rawURL string) *Request {
	t.Helper()
	req, err := NewRequest(method, rawURL)
	require.NoError(t, err)
	return req
}

// installAndActivate 让 Worker 进入 active 状态。
func installAndActivate(t *testing.T, w *Worker) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.Install(ctx))
	require.NoError(t, w.Activate(ctx))
}
