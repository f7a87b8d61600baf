package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/dotnet/sdk-sub044/internal/service/feed"
	"github.com/dotnet/sdk-sub044/internal/testutil"
)

// packageFeed serves packages in the flat-container layout.
type packageFeed struct {
	mu       sync.Mutex
	packages map[string]map[string][]byte
	// failures makes the next requests for a package fail with 503.
	failures map[string]int
	requests int
}

func newPackageFeed(t *testing.T) (*packageFeed, *httptest.Server) {
	t.Helper()

	f := &packageFeed{
		packages: make(map[string]map[string][]byte),
		failures: make(map[string]int),
	}

	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)

	return f, server
}

func (f *packageFeed) publish(t *testing.T, packageID, version string, files map[string]string) {
	t.Helper()

	data := testutil.PackageBytes(t, files)

	f.mu.Lock()
	defer f.mu.Unlock()

	id := strings.ToLower(packageID)
	if f.packages[id] == nil {
		f.packages[id] = make(map[string][]byte)
	}

	f.packages[id][strings.ToLower(version)] = data
}

func (f *packageFeed) failNext(packageID string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures[strings.ToLower(packageID)] = count
}

func (f *packageFeed) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.requests
}

func (f *packageFeed) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests++

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	versions := f.packages[parts[0]]

	if f.failures[parts[0]] > 0 {
		f.failures[parts[0]]--
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "index.json" && versions != nil:
		index := struct {
			Versions []string `json:"versions"`
		}{}

		for version := range versions {
			index.Versions = append(index.Versions, version)
		}

		sort.Strings(index.Versions)

		_ = json.NewEncoder(w).Encode(index)
	case len(parts) == 3 && versions[parts[1]] != nil && parts[2] == feed.PackageFileName(parts[0], parts[1]):
		_, _ = w.Write(versions[parts[1]])
	default:
		http.NotFound(w, r)
	}
}
