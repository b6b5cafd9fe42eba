package models

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/modelsteward/pkg/events"
	"github.com/cuemby/modelsteward/pkg/types"
	"github.com/stretchr/testify/require"
)

func digestOfBytes(payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("%x", sum[:])
}

func waitForStatus(t *testing.T, s *Steward, id string, want types.ModelStatus, timeout time.Duration) *types.ModelEntry {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range s.List() {
			if e.ID == id && e.Status == want {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("model %s never reached status %s", id, want)
	return nil
}

func newTestSteward(t *testing.T) *Steward {
	t.Helper()
	cfg := Config{StateDir: t.TempDir(), MaxConcurrency: 2, PreflightEnabled: false}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStartDownloadFetchesVerifiesAndPromotes(t *testing.T) {
	payload := []byte("model artifact payload, not actually a tensor")
	digest := digestOfBytes(payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	s := newTestSteward(t)
	err := s.StartDownload(StartDownloadRequest{ID: "model-a", URL: srv.URL, SHA256: digest})
	require.NoError(t, err)

	entry := waitForStatus(t, s, "model-a", types.ModelStatusAvailable, 2*time.Second)
	require.EqualValues(t, len(payload), entry.Bytes)
	require.True(t, s.Catalog().Contains(digest))
}

func TestStartDownloadRejectsMalformedDigest(t *testing.T) {
	s := newTestSteward(t)
	err := s.StartDownload(StartDownloadRequest{ID: "model-a", URL: "http://example.invalid/x", SHA256: "not-hex"})
	require.ErrorIs(t, err, ErrInvalidSha)
}

func TestStartDownloadRejectsEmptyID(t *testing.T) {
	s := newTestSteward(t)
	digest := digestOfBytes([]byte("x"))
	err := s.StartDownload(StartDownloadRequest{URL: "http://example.invalid/x", SHA256: digest})
	require.ErrorIs(t, err, ErrEmptyID)
}

func TestStartDownloadRejectsBadScheme(t *testing.T) {
	s := newTestSteward(t)
	digest := digestOfBytes([]byte("x"))
	err := s.StartDownload(StartDownloadRequest{ID: "model-a", URL: "ftp://example.invalid/x", SHA256: digest})
	require.ErrorIs(t, err, ErrInvalidScheme)
}

func TestStartDownloadWithoutURLUsesRecordedCatalogURL(t *testing.T) {
	payload := []byte("cached-url payload")
	digest := digestOfBytes(payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	s := newTestSteward(t)
	s.Catalog().Add(&types.ModelEntry{ID: "model-a", SourceURL: srv.URL, SHA256: digest, Status: types.ModelStatusQueued})

	err := s.StartDownload(StartDownloadRequest{ID: "model-a", SHA256: digest})
	require.NoError(t, err)
	waitForStatus(t, s, "model-a", types.ModelStatusAvailable, 2*time.Second)
}

func TestStartDownloadWithoutURLOrCatalogEntryFails(t *testing.T) {
	s := newTestSteward(t)
	digest := digestOfBytes([]byte("x"))
	err := s.StartDownload(StartDownloadRequest{ID: "model-a", SHA256: digest})
	require.ErrorIs(t, err, ErrURLMissing)
}

func TestStartDownloadMismatchedHashGoesToError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wrong bytes"))
	}))
	defer srv.Close()

	wrongDigest := digestOfBytes([]byte("expected bytes instead"))

	s := newTestSteward(t)
	err := s.StartDownload(StartDownloadRequest{ID: "model-a", URL: srv.URL, SHA256: wrongDigest})
	require.NoError(t, err)

	entry := waitForStatus(t, s, "model-a", types.ModelStatusError, 2*time.Second)
	require.Equal(t, CodeSHA256Mismatch, entry.ErrorCode)
	require.False(t, s.Catalog().Contains(wrongDigest))
}

func TestStartDownloadCoalescesSecondRequestForSameDigest(t *testing.T) {
	release := make(chan struct{})
	payload := []byte("slow payload")
	digest := digestOfBytes(payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(payload)
	}))
	defer srv.Close()

	s := newTestSteward(t)
	require.NoError(t, s.StartDownload(StartDownloadRequest{ID: "primary", URL: srv.URL, SHA256: digest}))

	// Give the primary a moment to register with the coalescer before the
	// follower arrives.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.StartDownload(StartDownloadRequest{ID: "follower", URL: srv.URL, SHA256: digest}))

	followerEntry := waitForStatus(t, s, "follower", types.ModelStatusCoalesced, time.Second)
	require.Equal(t, digest, followerEntry.SHA256)

	close(release)
	waitForStatus(t, s, "primary", types.ModelStatusAvailable, 2*time.Second)
}

func TestCancelDownloadWithNoActiveJobIsNonFatal(t *testing.T) {
	s := newTestSteward(t)
	broker := s.Broker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	s.CancelDownload("never-started")

	select {
	case ev := <-sub:
		payload, ok := ev.Payload.(ProgressEvent)
		require.True(t, ok)
		require.Equal(t, CodeNoActiveJob, payload.Code)
	case <-time.After(time.Second):
		t.Fatal("expected a no-active-job progress event")
	}
}

func TestCancelDownloadStopsAnInFlightTransfer(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write([]byte("xxxxxxxxxx"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	digest := "000000000000000000000000000000000000000000000000000000000000000a"
	s := newTestSteward(t)
	require.NoError(t, s.StartDownload(StartDownloadRequest{ID: "model-a", URL: srv.URL, SHA256: digest}))

	time.Sleep(30 * time.Millisecond)
	s.CancelDownload("model-a")

	waitForStatus(t, s, "model-a", types.ModelStatusCanceled, 2*time.Second)
}

func TestCASGCOnEmptyStoreDeletesNothing(t *testing.T) {
	s := newTestSteward(t)
	result, err := s.CASGC(0, true)
	require.NoError(t, err)
	require.Equal(t, 0, result.Deleted)
}

func TestFanoutPublishesOneEventPerTarget(t *testing.T) {
	s := newTestSteward(t)
	broker := s.Broker()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	require.Equal(t, RegisterResult{IsPrimary: true}, s.coalescer.Register("primary", "digest-x"))
	s.coalescer.Register("follower", "digest-x")

	s.fanout("primary", ProgressEvent{Status: "downloading"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			payload := ev.Payload.(ProgressEvent)
			seen[payload.ID] = true
		case <-time.After(time.Second):
			t.Fatalf("expected 2 fanout events, got %d", i)
		}
	}
	require.True(t, seen["primary"])
	require.True(t, seen["follower"])
}

var _ events.Publisher = (*events.Broker)(nil)
