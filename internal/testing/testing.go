// Package testing contains shared testing utilities and doubles.
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/kindlesync/internal/models"
	"github.com/desertthunder/kindlesync/internal/services"
	"github.com/desertthunder/kindlesync/internal/session"
)

// MockLibraryService is a test double for [services.LibraryService].
//
// It serves a fixed library and counts calls. Set FetchErr or HeartbeatErr to fail.
type MockLibraryService struct {
	mu sync.Mutex

	Library      models.Library
	Refreshed    *session.Credential
	FetchErr     error
	HeartbeatErr error
	// HeartbeatCred is returned by Heartbeat; nil echoes the input credential.
	HeartbeatCred *session.Credential

	FetchCalls     int
	HeartbeatCalls int
	LastCredential session.Credential
}

func (m *MockLibraryService) FetchLibrary(ctx context.Context, cred session.Credential) (*services.FetchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls++
	m.LastCredential = cred
	if m.FetchErr != nil {
		return &services.FetchResult{Library: m.Library}, m.FetchErr
	}
	return &services.FetchResult{Library: m.Library, Refreshed: m.Refreshed}, nil
}

func (m *MockLibraryService) Heartbeat(ctx context.Context, cred session.Credential) (*session.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HeartbeatCalls++
	m.LastCredential = cred
	if m.HeartbeatErr != nil {
		return nil, m.HeartbeatErr
	}
	if m.HeartbeatCred != nil {
		c := *m.HeartbeatCred
		return &c, nil
	}
	return &cred, nil
}

func (m *MockLibraryService) Name() string { return "mock" }

// Calls returns the fetch and heartbeat call counts.
func (m *MockLibraryService) Calls() (fetches, heartbeats int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FetchCalls, m.HeartbeatCalls
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
