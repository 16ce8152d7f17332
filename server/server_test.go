package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scribe/diagnostics"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/pulse"
	"github.com/teranos/scribe/pulse/async"
)

// Test Universe: the HTTP front desk
//
// Kirby drops off recordings, TAS Bot pastes links, and Cronos watches the
// WebSocket board. Every request goes through the real dispatcher with the
// placeholder engine, so jobs finish quickly and deterministically.

type upload struct {
	name string
	data []byte
}

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *httptest.Server, *pulse.Dispatcher) {
	t.Helper()

	d, err := pulse.New(pulse.Options{
		DataDir:           t.TempDir(),
		RetentionInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	opts := Options{Dispatcher: d, SubmitRatePerMinute: 0}
	if mutate != nil {
		mutate(&opts)
	}
	s := New(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, ts, d
}

func postJob(t *testing.T, baseURL string, fields map[string]string, file *upload) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile(FormFieldFile, file.name)
		require.NoError(t, err)
		_, err = fw.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(baseURL+"/jobs", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, resp, &body)
	return body["error"]
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func waitCompleted(t *testing.T, baseURL, id string) async.Job {
	t.Helper()
	var job async.Job
	require.Eventually(t, func() bool {
		job = async.Job{}
		if getJSON(t, baseURL+"/jobs/"+id, &job) != http.StatusOK {
			return false
		}
		return job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestCreateJob_UploadToDownload(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	// Kirby uploads a clip with a sneaky directory prefix
	resp := postJob(t, ts.URL, nil, &upload{name: "../../clips/kirby.wav", data: []byte("RIFF....WAVE")})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created CreateJobResponse
	decodeBody(t, resp, &created)
	require.Len(t, created.ID, 32)

	job := waitCompleted(t, ts.URL, created.ID)
	assert.Equal(t, async.JobStatusCompleted, job.Status)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, "kirby.wav", job.Source)

	dl, err := http.Get(ts.URL + "/jobs/" + created.ID + "/download")
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", dl.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="`+created.ID+`.txt"`, dl.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Simulated transcript for "+created.ID+"_kirby.wav")

	// History is appended just after the completed status is published
	var records []history.Record
	require.Eventually(t, func() bool {
		records = nil
		return getJSON(t, ts.URL+"/history", &records) == http.StatusOK && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, created.ID, records[0].ID)
	assert.Equal(t, "completed", records[0].Status)

	var jobs []async.Job
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/jobs", &jobs))
	require.Len(t, jobs, 1)
}

func TestCreateJob_SourceValidation(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	tests := []struct {
		name    string
		fields  map[string]string
		file    *upload
		wantMsg string
	}{
		{"both file and url", map[string]string{"url": "https://example.com/a.mp3"}, &upload{"a.wav", []byte("x")}, "Provide either file or url, not both"},
		{"neither", nil, nil, "Either file or url must be provided"},
		{"blank url only", map[string]string{"url": "   "}, nil, "Either file or url must be provided"},
		{"empty file", nil, &upload{"empty.wav", nil}, "Uploaded file is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJob(t, ts.URL, tt.fields, tt.file)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, errorMessage(t, resp))
		})
	}

	var jobs []async.Job
	getJSON(t, ts.URL+"/jobs", &jobs)
	assert.Empty(t, jobs, "rejected submissions never register a job")
}

func TestCreateJob_URLRejectedByDispatcher(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	for _, raw := range []string{"ftp://example.com/a.mp3", "not a url", "http://127.0.0.1/private.mp3"} {
		resp := postJob(t, ts.URL, map[string]string{"url": raw}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, raw)
	}
}

func TestCreateJob_URLQueued(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	// TAS Bot pastes a link to an unresolvable host; the job is accepted and
	// fails later in the worker.
	resp := postJob(t, ts.URL, map[string]string{"url": "https://media.invalid/run.mp4"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created CreateJobResponse
	decodeBody(t, resp, &created)

	job := waitCompleted(t, ts.URL, created.ID)
	assert.Equal(t, async.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)

	dl, err := http.Get(ts.URL + "/jobs/" + created.ID + "/download")
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusNotFound, dl.StatusCode)
	assert.Equal(t, msgNoResult, errorMessage(t, dl))
}

func TestCreateJob_RateLimited(t *testing.T) {
	_, ts, _ := newTestServer(t, func(o *Options) { o.SubmitRatePerMinute = 2 })

	for i := 0; i < 2; i++ {
		resp := postJob(t, ts.URL, nil, &upload{"a.wav", []byte("x")})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := postJob(t, ts.URL, nil, &upload{"a.wav", []byte("x")})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, msgRateLimited, errorMessage(t, resp))

	// Reads are never limited
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/jobs", nil))
}

func TestCreateJob_UploadTooLarge(t *testing.T) {
	_, ts, _ := newTestServer(t, func(o *Options) { o.MaxUploadBytes = 10 })

	resp := postJob(t, ts.URL, nil, &upload{"big.wav", bytes.Repeat([]byte("a"), 2000)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, msgUploadTooBig, errorMessage(t, resp))
}

func TestJobEndpoints_NotFound(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/jobs/doesnotexist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, msgJobNotFound, errorMessage(t, resp))

	dl, err := http.Get(ts.URL + "/jobs/doesnotexist/download")
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusNotFound, dl.StatusCode)
	assert.Equal(t, msgNoResult, errorMessage(t, dl))

	other, err := http.Get(ts.URL + "/nowhere")
	require.NoError(t, err)
	defer other.Body.Close()
	assert.Equal(t, http.StatusNotFound, other.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/jobs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	post, err := http.Post(ts.URL+"/history", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestHealth(t *testing.T) {
	t.Run("without diagnostics", func(t *testing.T) {
		_, ts, _ := newTestServer(t, nil)

		var health HealthResponse
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
		assert.Equal(t, "ok", health.Status)
		assert.NotEmpty(t, health.Version.GoVersion)
		assert.Equal(t, 0, health.QueueDepth)
		assert.Nil(t, health.Diagnostics)
	})

	t.Run("degraded when a check fails", func(t *testing.T) {
		_, ts, _ := newTestServer(t, func(o *Options) {
			o.Checker = diagnostics.NewChecker()
			o.DiagnosticsSettings = diagnostics.Settings{
				Binaries:     []string{"scribe-test-no-such-binary"},
				DataDir:      t.TempDir(),
				MinFreeBytes: 1,
			}
		})

		var health HealthResponse
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
		assert.Equal(t, "degraded", health.Status)
		require.NotNil(t, health.Diagnostics)
		assert.True(t, health.Diagnostics.HasFailures)
	})
}

func TestCORS(t *testing.T) {
	_, ts, _ := newTestServer(t, func(o *Options) { o.AllowedOrigins = []string{"https://scribe.example"} })

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://scribe.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://scribe.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp2.Header.Get("X-Request-ID"))
}

func clientCount(s *Server) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func TestWebSocket_StreamsJobUpdates(t *testing.T) {
	s, ts, _ := newTestServer(t, nil)

	// Cronos connects before anything happens
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return clientCount(s) == 1 }, 2*time.Second, 5*time.Millisecond)

	resp := postJob(t, ts.URL, nil, &upload{"cronos.wav", []byte("tick")})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created CreateJobResponse
	decodeBody(t, resp, &created)

	seen := map[async.JobStatus]bool{}
	deadline := time.Now().Add(5 * time.Second)
	for !seen[async.JobStatusCompleted] {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg JobUpdateMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Job == nil || msg.Job.ID != created.ID {
			continue
		}
		assert.Equal(t, messageJobUpdate, msg.Type)
		seen[msg.Job.Status] = true
	}
	assert.True(t, seen[async.JobStatusQueued])
	assert.True(t, seen[async.JobStatusProcessing])
}

func TestWebSocket_SnapshotOnConnect(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	resp := postJob(t, ts.URL, nil, &upload{"early.wav", []byte("x")})
	var created CreateJobResponse
	decodeBody(t, resp, &created)
	waitCompleted(t, ts.URL, created.ID)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg JobUpdateMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, messageJobSnapshot, msg.Type)
	require.NotNil(t, msg.Job)
	assert.Equal(t, created.ID, msg.Job.ID)
	assert.Equal(t, async.JobStatusCompleted, msg.Job.Status)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	_, ts, _ := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeAndStop(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, ServerStateStopped, s.getState())

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	// Second Serve is refused, second Stop is a no-op
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Error(t, s.Serve(ln2))
	assert.NoError(t, s.Stop(ctx))
}

func TestDrainingRejectsSubmissions(t *testing.T) {
	s, ts, _ := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	resp := postJob(t, ts.URL, nil, &upload{"late.wav", []byte("x")})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, msgShuttingDown, errorMessage(t, resp))

	// Reads still work while the listener lives
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/jobs", nil))
}
