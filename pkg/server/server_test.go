package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/models"
	"github.com/z-wentao/okoshi/pkg/pipeline"
	"github.com/z-wentao/okoshi/pkg/queue"
	"github.com/z-wentao/okoshi/pkg/storage"
	"github.com/z-wentao/okoshi/pkg/transcriber"
)

// fakeRunner 直接写一份报告，不调用 ffmpeg 和转写引擎
type fakeRunner struct {
	reportsDir string
	err        error
	got        pipeline.Request
	body       string
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.got = req
	b, _ := io.ReadAll(req.Body)
	f.body = string(b)
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(f.reportsDir, "u_20250601_100000_meeting_transcription.txt")
	if err := os.WriteFile(path, []byte("report"), 0o644); err != nil {
		return nil, err
	}
	return &pipeline.Result{
		RequestID:  req.RequestID,
		ReportPath: path,
		Transcript: models.AggregatedTranscript{
			Success:             true,
			CombinedText:        "こんにちは",
			TotalDuration:       1080,
			TotalProcessingTime: 12.346,
			SegmentCount:        4,
			Warning:             "注意: 1個のセグメントで文字起こしに失敗しました",
		},
		Segments: 2,
	}, nil
}

type fakeUsage struct{}

func (fakeUsage) Usage() transcriber.UsageInfo {
	return transcriber.UsageInfo{Model: "whisper-1", PricingPerMinute: 0.006}
}

type testServer struct {
	router *gin.Engine
	runner *fakeRunner
	store  *storage.JobStore
	queue  *queue.MemoryQueue
	opts   Options
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	opts := Options{
		WorkingDir:     filepath.Join(root, "work"),
		ReportsDir:     filepath.Join(root, "reports"),
		UploadDir:      filepath.Join(root, "uploads"),
		MaxUploadSize:  1 << 20,
		AllowedOrigins: []string{"http://localhost:8080"},
	}
	for _, dir := range []string{opts.WorkingDir, opts.ReportsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	runner := &fakeRunner{reportsDir: opts.ReportsDir}
	store := storage.NewJobStore()
	q := queue.NewMemoryQueue(10)
	s := New(runner, store, q, fakeUsage{}, opts, nil)
	return &testServer{router: s.Router(), runner: runner, store: store, queue: q, opts: opts}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, user, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if user != "" {
		mw.WriteField("user", user)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("audio_file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["message"] != "pong" {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("request id header missing")
	}
}

func TestOkoshiSuccess(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(uploadRequest(t, "/okoshi", "  営業部 山田 ", "meeting.m4a", "audio-bytes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	body := decode(t, rec)
	if body["message"] != "文字起こしが完了しました！" || body["user"] != "営業部 山田" {
		t.Fatalf("body = %v", body)
	}
	if body["result_url"] != "/result/u_20250601_100000_meeting_transcription.txt" {
		t.Fatalf("result_url = %v", body["result_url"])
	}
	if body["transcription_text"] != "こんにちは" {
		t.Fatalf("text = %v", body["transcription_text"])
	}
	info := body["processing_info"].(map[string]any)
	if info["duration_minutes"] != 18.0 || info["processing_time_seconds"] != 12.35 || info["segment_count"] != 4.0 {
		t.Fatalf("processing_info = %v", info)
	}
	if info["warning"] == nil {
		t.Fatal("partial failure warning should be returned")
	}

	if ts.runner.got.User != "営業部 山田" || ts.runner.got.Filename != "meeting.m4a" || ts.runner.body != "audio-bytes" {
		t.Fatalf("runner got %+v body %q", ts.runner.got, ts.runner.body)
	}
	if ts.runner.got.RequestID != rec.Header().Get(headerRequestID) {
		t.Fatal("pipeline should receive the request id")
	}
}

func TestOkoshiRejectsBadUploads(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		name string
		req  *http.Request
	}{
		{"missing user", uploadRequest(t, "/okoshi", "", "a.mp3", "x")},
		{"missing file", uploadRequest(t, "/okoshi", "u", "", "")},
		{"bad extension", uploadRequest(t, "/okoshi", "u", "notes.txt", "x")},
		{"empty file", uploadRequest(t, "/okoshi", "u", "a.mp3", "")},
		{"too large", uploadRequest(t, "/okoshi", "u", "a.mp3", strings.Repeat("x", 1<<20+1))},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := ts.do(c.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
			body := decode(t, rec)
			if detail, _ := body["detail"].(string); detail == "" || strings.Contains(detail, "サーバー内部エラー") {
				t.Fatalf("detail = %v", body["detail"])
			}
		})
	}
	if ts.runner.got.Filename != "" {
		t.Fatal("pipeline must not run for invalid uploads")
	}
}

func TestOkoshiTranscriptionFailureHidesDetails(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.err = apperr.New(apperr.ErrTranscription, "全セグメントの文字起こしに失敗しました", io.ErrUnexpectedEOF)

	req := uploadRequest(t, "/okoshi", "u", "a.mp3", "x")
	req.Header.Set(headerRequestID, "abc12345")
	rec := ts.do(req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["detail"] != "文字起こしに失敗しました。(ID: abc12345)" || body["request_id"] != "abc12345" {
		t.Fatalf("body = %v", body)
	}
	if strings.Contains(rec.Body.String(), "unexpected EOF") {
		t.Fatal("internal error leaked")
	}
}

func TestCreateJobQueuesStagedFile(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(uploadRequest(t, "/api/jobs", "u", "Voice.WAV", "RIFF"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	jobID := decode(t, rec)["job_id"].(string)

	job, err := ts.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.StatusPending || job.Filename != "Voice.WAV" || filepath.Ext(job.FilePath) != ".wav" {
		t.Fatalf("job = %+v", job)
	}
	data, err := os.ReadFile(job.FilePath)
	if err != nil || string(data) != "RIFF" {
		t.Fatalf("staged file = %q, %v", data, err)
	}
	if ts.queue.Len() != 1 {
		t.Fatalf("queue len = %d", ts.queue.Len())
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	if rec.Code != http.StatusOK || decode(t, rec)["job_id"] != jobID {
		t.Fatalf("get job = %d %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if decode(t, rec)["total"] != 1.0 {
		t.Fatalf("list = %s", rec.Body.String())
	}
}

func TestCreateJobEnqueueFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.Close()

	rec := ts.do(uploadRequest(t, "/api/jobs", "u", "a.mp3", "x"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}

	jobs, _ := ts.store.List(context.Background())
	if len(jobs) != 1 || jobs[0].Status != models.StatusFailed {
		t.Fatalf("jobs = %+v", jobs)
	}
	entries, _ := os.ReadDir(ts.opts.UploadDir)
	if len(entries) != 0 {
		t.Fatalf("staged file should be removed: %v", entries)
	}
}

func TestJobNotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := ts.do(httptest.NewRequest(method, "/api/jobs/nope", nil))
		if rec.Code != http.StatusNotFound || decode(t, rec)["detail"] != "ジョブが見つかりません" {
			t.Fatalf("%s = %d %s", method, rec.Code, rec.Body.String())
		}
	}
}

func TestDownloadResult(t *testing.T) {
	ts := newTestServer(t)
	name := "u_20250601_100000_a_transcription.txt"
	if err := os.WriteFile(filepath.Join(ts.opts.ReportsDir, name), []byte("本文"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/result/"+name, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "本文" {
		t.Fatalf("download = %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("content-disposition = %q", rec.Header().Get("Content-Disposition"))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/result/missing_transcription.txt", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", rec.Code)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/result/..", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("traversal = %d", rec.Code)
	}
}

func TestDeleteFiles(t *testing.T) {
	ts := newTestServer(t)
	os.WriteFile(filepath.Join(ts.opts.WorkingDir, "left.mp3"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(ts.opts.ReportsDir, "a_transcription.txt"), []byte("x"), 0o644)

	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/files", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["deleted_count"] != 2.0 || body["message"] != "すべてのファイルを削除しました" {
		t.Fatalf("body = %v", body)
	}
	for _, dir := range []string{ts.opts.WorkingDir, ts.opts.ReportsDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("%s should be kept: %v", dir, err)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/okoshi", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := ts.do(req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8080" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/ui" {
		t.Fatalf("redirect = %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/ui", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "音声文字起こし") {
		t.Fatalf("ui = %d", rec.Code)
	}
}

func TestUsage(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	if rec.Code != http.StatusOK || decode(t, rec)["model"] != "whisper-1" {
		t.Fatalf("usage = %d %s", rec.Code, rec.Body.String())
	}
}
