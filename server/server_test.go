package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"sitephoto/config"
	"sitephoto/database"
	"sitephoto/metrics"
	"sitephoto/storage"
	"sitephoto/upload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testServer struct {
	srv *Server
	db  *sql.DB
}

func newTestServer(t *testing.T, store storage.BlobStore, opts ...upload.Option) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := database.InitDatabase(filepath.Join(dir, "images.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if store == nil {
		local, err := storage.NewLocalStore(filepath.Join(dir, "blobs"))
		require.NoError(t, err)
		store = local
	}

	cfg, err := config.Load(config.New())
	require.NoError(t, err)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"

	m := metrics.New()
	opts = append(opts, upload.WithMetrics(m))
	svc := upload.NewService(store, db, zap.NewNop(), opts...)

	return &testServer{
		srv: New(*cfg, Deps{Upload: svc, DB: db, Metrics: m}, zap.NewNop()),
		db:  db,
	}
}

type formFile struct {
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, file *formFile, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}

	if file != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.name))
		header.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/images/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(UserHeader, "user-1")
	return req
}

func (ts *testServer) do(req *http.Request) (*httptest.ResponseRecorder, Envelope) {
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	var env Envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func dataMap(t *testing.T, env Envelope) map[string]interface{} {
	t.Helper()
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", env.Data)
	return data
}

var tinyJPEG = []byte{0xff, 0xd8, 0xff, 0xe0}

func TestUpload_NoFile(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(multipartRequest(t, nil, map[string]string{"siteId": "site-1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, CodeNoFile, env.Error.Code)
	assert.NotEmpty(t, env.Timestamp)
}

func TestUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t, nil)

	big := make([]byte, 11*1024*1024)
	copy(big, tinyJPEG)
	rec, env := ts.do(multipartRequest(t, &formFile{"big.jpg", "image/jpeg", big}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeFileTooLarge, env.Error.Code)
}

func TestUpload_InvalidType(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(multipartRequest(t, &formFile{"test.txt", "text/plain", []byte("hello")}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidFileType, env.Error.Code)
}

func TestUpload_Success(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(multipartRequest(t, &formFile{"photo.jpg", "image/jpeg", tinyJPEG}, map[string]string{"siteId": "site-1", "postId": "post-1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)

	data := dataMap(t, env)
	assert.Equal(t, "site-1", data["siteId"])
	assert.Equal(t, "user-1", data["userId"])
	assert.Equal(t, "photo.jpg", data["originalName"])
	assert.Regexp(t, `^[a-f0-9]{16}$`, data["imageHash"])
	filename, _ := data["filename"].(string)
	assert.True(t, strings.HasSuffix(filename, ".jpg"))

	rec, env = ts.do(httptest.NewRequest(http.MethodGet, "/images/info/"+filename, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	info := dataMap(t, env)
	assert.Equal(t, filename, info["filename"])
	assert.Equal(t, "image/jpeg", info["contentType"])
	assert.Equal(t, float64(len(tinyJPEG)), info["size"])
}

func TestUpload_Duplicate(t *testing.T) {
	ts := newTestServer(t, nil)
	fields := map[string]string{"siteId": "site-1"}

	rec, _ := ts.do(multipartRequest(t, &formFile{"a.jpg", "image/jpeg", tinyJPEG}, fields))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(multipartRequest(t, &formFile{"duplicate.jpg", "image/jpeg", tinyJPEG}, fields))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeDuplicateImage, env.Error.Code)
	match := dataMap(t, env)
	assert.Equal(t, true, match["exact"])
	assert.Equal(t, float64(0), match["distance"])
}

func TestUpload_PrivacyFailure(t *testing.T) {
	ts := newTestServer(t, nil, upload.WithSanitizer(func([]byte, string) ([]byte, map[string]string, error) {
		return nil, nil, errors.New("privacy failed")
	}))

	rec, env := ts.do(multipartRequest(t, &formFile{"privacy-fail.jpg", "image/jpeg", tinyJPEG}, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, env.Error.Code)
}

type brokenHead struct {
	storage.BlobStore
}

func (brokenHead) Head(context.Context, string) (*storage.ObjectInfo, error) {
	return nil, errors.New("r2 failure")
}

func TestImageInfo(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(httptest.NewRequest(http.MethodGet, "/images/info/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, env.Error.Code)

	broken := newTestServer(t, brokenHead{})
	rec, env = broken.do(httptest.NewRequest(http.MethodGet, "/images/info/photo.jpg", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, env.Error.Code)
}

type brokenList struct {
	storage.BlobStore
}

func (brokenList) List(context.Context, string, int, string) (*storage.ListPage, error) {
	return nil, errors.New("r2 failure")
}

var tinyPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00")

func uploadFile(t *testing.T, ts *testServer, file *formFile) string {
	t.Helper()
	rec, env := ts.do(multipartRequest(t, file, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	filename, _ := dataMap(t, env)["filename"].(string)
	require.NotEmpty(t, filename)
	return filename
}

func TestDownloadImage(t *testing.T) {
	ts := newTestServer(t, nil)

	jpg := uploadFile(t, ts, &formFile{"site.jpg", "image/jpeg", tinyJPEG})
	req := httptest.NewRequest(http.MethodGet, "/images/download/"+jpg, nil)
	req.Header.Set(UserHeader, "admin-1")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tinyJPEG, rec.Body.Bytes())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), jpg)
	assert.Equal(t, "admin-1", rec.Header().Get("X-Downloaded-By"))

	png := uploadFile(t, ts, &formFile{"plan.png", "image/png", tinyPNG})
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images/download/"+png, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, tinyPNG, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get("X-Downloaded-By"))

	for _, name := range []string{"missing.jpg", ".hidden"} {
		rec, env := ts.do(httptest.NewRequest(http.MethodGet, "/images/download/"+name, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, name)
		assert.Equal(t, CodeNotFound, env.Error.Code, name)
	}

	broken := newTestServer(t, brokenHead{})
	rec, env := broken.do(httptest.NewRequest(http.MethodGet, "/images/download/photo.jpg", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, env.Error.Code)
}

func listImages(t *testing.T, env Envelope) []interface{} {
	t.Helper()
	images, ok := dataMap(t, env)["images"].([]interface{})
	require.True(t, ok)
	return images
}

func TestListImages(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(httptest.NewRequest(http.MethodGet, "/images/list", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, listImages(t, env))

	first := uploadFile(t, ts, &formFile{"a.jpg", "image/jpeg", tinyJPEG})
	uploadFile(t, ts, &formFile{"b.png", "image/png", tinyPNG})

	rec, env = ts.do(httptest.NewRequest(http.MethodGet, "/images/list", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	images := listImages(t, env)
	require.Len(t, images, 2)
	assert.Equal(t, false, dataMap(t, env)["truncated"])

	keys := map[string]map[string]interface{}{}
	for _, raw := range images {
		img := raw.(map[string]interface{})
		keys[img["key"].(string)] = img
		assert.NotEmpty(t, img["uploaded"])
	}
	require.Contains(t, keys, first)
	assert.Equal(t, "image/jpeg", keys[first]["contentType"])
	assert.Equal(t, float64(len(tinyJPEG)), keys[first]["size"])

	rec, env = ts.do(httptest.NewRequest(http.MethodGet, "/images/list?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listImages(t, env), 1)
	assert.Equal(t, true, dataMap(t, env)["truncated"])
	cursor, _ := dataMap(t, env)["cursor"].(string)
	require.NotEmpty(t, cursor)

	rec, env = ts.do(httptest.NewRequest(http.MethodGet, "/images/list?limit=1&cursor="+url.QueryEscape(cursor), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listImages(t, env), 1)
	assert.Equal(t, false, dataMap(t, env)["truncated"])

	rec, env = ts.do(httptest.NewRequest(http.MethodGet, "/images/list?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, env.Error.Code)

	broken := newTestServer(t, brokenList{})
	rec, env = broken.do(httptest.NewRequest(http.MethodGet, "/images/list", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, env.Error.Code)
}

func compareRequestFor(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/images/compare", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCompareHashes(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name      string
		body      string
		distance  float64
		duplicate bool
		valid     bool
	}{
		{"identical", `{"hashA":"0f0f0f0f0f0f0f0f","hashB":"0f0f0f0f0f0f0f0f"}`, 0, true, true},
		{"opposite", `{"hashA":"0000000000000000","hashB":"ffffffffffffffff"}`, 64, false, true},
		{"near", `{"hashA":"0000000000000000","hashB":"00000000000003ff"}`, 10, true, true},
		{"malformed", `{"hashA":"abcd","hashB":"abc"}`, 64, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := ts.do(compareRequestFor(t, tt.body))
			require.Equal(t, http.StatusOK, rec.Code)
			data := dataMap(t, env)
			assert.Equal(t, tt.distance, data["distance"])
			assert.Equal(t, tt.duplicate, data["duplicate"])
			assert.Equal(t, tt.valid, data["valid"])
			assert.Equal(t, float64(10), data["threshold"])
		})
	}

	rec, env := ts.do(compareRequestFor(t, `{"hashA":"0000000000000000"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, env.Error.Code)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, _ := ts.do(multipartRequest(t, &formFile{"a.jpg", "image/jpeg", tinyJPEG}, map[string]string{"siteId": "site-1"}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(httptest.NewRequest(http.MethodGet, "/images/stats?siteId=site-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, env)
	assert.Equal(t, float64(1), data["totalImages"])
	assert.Equal(t, float64(1), data["hashedImages"])
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	ts.do(multipartRequest(t, &formFile{"test.txt", "text/plain", []byte("hello")}, nil))

	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sitephoto_uploads_total{outcome="rejected"} 1`)

	require.NoError(t, ts.db.Close())
	rec, env = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeUnavailable, env.Error.Code)
}

func TestNoRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestServeAndShutdown(t *testing.T) {
	ts := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ts.srv.Serve(ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))
	require.NoError(t, <-done)
	client.CloseIdleConnections()
}
