package httpapi

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/8gudbits/QuickServe/internal/catalog"
)

func multipartBody(t *testing.T, path, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("path", path); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 3), uint8(y * 3), 200, 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

// TestHandleFiles_ListsEntries lists a directory with files and folders.
func TestHandleFiles_ListsEntries(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("aaa"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/files?path=%2F", nil)
	w := httptest.NewRecorder()
	s.handleFiles(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var listing catalog.Listing
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listing.CurrentDir != "/" {
		t.Fatalf("current_dir=%q", listing.CurrentDir)
	}
	if listing.ParentDir != nil {
		t.Fatalf("parent_dir=%v at root", *listing.ParentDir)
	}
	if len(listing.Files) != 2 {
		t.Fatalf("entries=%d want 2", len(listing.Files))
	}
	if listing.Files[0].Name != "docs" || listing.Files[0].Type != "folder" {
		t.Fatalf("first entry=%+v, folders sort first", listing.Files[0])
	}
	if listing.Files[1].Size == nil || *listing.Files[1].Size != 3 {
		t.Fatalf("file size=%v want 3", listing.Files[1].Size)
	}
}

// TestHandleFiles_MissingDir returns 404 for a nonexistent directory.
func TestHandleFiles_MissingDir(t *testing.T) {
	s, _ := newFileServer(t)

	r := httptest.NewRequest("GET", "/api/files?path=%2Fghost", nil)
	w := httptest.NewRecorder()
	s.handleFiles(w, r)

	if w.Code != 404 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandleFiles_Traversal rejects paths escaping the shared root.
func TestHandleFiles_Traversal(t *testing.T) {
	s, _ := newFileServer(t)

	r := httptest.NewRequest("GET", "/api/files?path=%2F..%2Fetc", nil)
	w := httptest.NewRecorder()
	s.handleFiles(w, r)

	if w.Code != 400 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandleSearch_Pattern finds name substrings recursively.
func TestHandleSearch_Pattern(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, p := range []string{"a.txt", "docs/b.TXT", "c.log"} {
		if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(p)), []byte("x"), 0o644); err != nil {
			t.Fatalf("writefile: %v", err)
		}
	}

	r := httptest.NewRequest("GET", "/api/search?path=%2F&pattern=.txt", nil)
	w := httptest.NewRecorder()
	s.handleSearch(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var res catalog.SearchResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("count=%d want 2", res.Count)
	}
	if res.Truncated {
		t.Fatalf("unexpected truncation")
	}
}

// TestHandleSearch_ShortPattern rejects patterns under two characters.
func TestHandleSearch_ShortPattern(t *testing.T) {
	s, _ := newFileServer(t)

	r := httptest.NewRequest("GET", "/api/search?path=%2F&pattern=a", nil)
	w := httptest.NewRecorder()
	s.handleSearch(w, r)

	if w.Code != 400 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandleUpload_CreatesFile stores a multipart upload and returns 201.
func TestHandleUpload_CreatesFile(t *testing.T) {
	s, root := newFileServer(t)

	body, ct := multipartBody(t, "/", "notes.txt", "hello world")
	r := httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("content-type", ct)
	w := httptest.NewRecorder()
	s.handleUpload(w, r)

	if w.Code != 201 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var entry catalog.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Name != "notes.txt" || entry.Type != "file" {
		t.Fatalf("entry=%+v", entry)
	}
	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatalf("readfile: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("content=%q", data)
	}
}

// TestHandleUpload_DeduplicatesName suffixes uploads that collide on disk.
func TestHandleUpload_DeduplicatesName(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.WriteFile(filepath.Join(root, "report.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	body, ct := multipartBody(t, "/", "report.txt", "new")
	r := httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("content-type", ct)
	w := httptest.NewRecorder()
	s.handleUpload(w, r)

	if w.Code != 201 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	var entry catalog.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Name != "report (1).txt" {
		t.Fatalf("name=%q", entry.Name)
	}
	if data, _ := os.ReadFile(filepath.Join(root, "report.txt")); string(data) != "old" {
		t.Fatalf("existing file was overwritten: %q", data)
	}
}

// TestHandleUpload_MissingFile rejects multipart posts without a file part.
func TestHandleUpload_MissingFile(t *testing.T) {
	s, _ := newFileServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("path", "/"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	r := httptest.NewRequest("POST", "/api/upload", &buf)
	r.Header.Set("content-type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.handleUpload(w, r)

	if w.Code != 400 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandleUpload_TooLarge enforces the configured upload cap with 413.
func TestHandleUpload_TooLarge(t *testing.T) {
	s, root := newFileServer(t)
	s.MaxUploadBytes = 4

	body, ct := multipartBody(t, "/", "big.bin", "way too much data")
	r := httptest.NewRequest("POST", "/api/upload", body)
	r.Header.Set("content-type", ct)
	w := httptest.NewRecorder()
	s.handleUpload(w, r)

	if w.Code != 413 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	if _, err := os.Stat(filepath.Join(root, "big.bin")); !os.IsNotExist(err) {
		t.Fatalf("oversize upload left a file behind")
	}
}

// TestHandleDownload_ServesFile sends the bytes as an attachment.
func TestHandleDownload_ServesFile(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.WriteFile(filepath.Join(root, "data.bin"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/download?path=%2Fdata.bin", nil)
	w := httptest.NewRecorder()
	s.handleDownload(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Body.String(); got != "payload" {
		t.Fatalf("body=%q", got)
	}
	if cd := w.Header().Get("content-disposition"); !strings.Contains(cd, `attachment; filename="data.bin"`) {
		t.Fatalf("content-disposition=%q", cd)
	}
}

// TestHandleDownload_RejectsDir refuses to stream a directory.
func TestHandleDownload_RejectsDir(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/download?path=%2Fdocs", nil)
	w := httptest.NewRecorder()
	s.handleDownload(w, r)

	if w.Code != 400 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandlePreview_InlineFile serves content without a disposition header.
func TestHandlePreview_InlineFile(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("inline text"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/preview?path=%2Freadme.txt", nil)
	w := httptest.NewRecorder()
	s.handlePreview(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Body.String(); got != "inline text" {
		t.Fatalf("body=%q", got)
	}
	if cd := w.Header().Get("content-disposition"); strings.Contains(cd, "attachment") {
		t.Fatalf("preview must not force download: %q", cd)
	}
}

// TestHandleThumbnail_ScalesImage renders a jpeg bounded by the size param.
func TestHandleThumbnail_ScalesImage(t *testing.T) {
	s, root := newFileServer(t)
	writePNG(t, filepath.Join(root, "photo.png"), 64, 48)

	r := httptest.NewRequest("GET", "/api/thumbnail?path=%2Fphoto.png&size=32", nil)
	w := httptest.NewRecorder()
	s.handleThumbnail(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	if ct := w.Header().Get("content-type"); ct != "image/jpeg" {
		t.Fatalf("content-type=%q", ct)
	}
	img, err := jpeg.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 32 || b.Dy() != 24 {
		t.Fatalf("thumb=%dx%d want 32x24", b.Dx(), b.Dy())
	}
}

// TestHandleThumbnail_RejectsNonImage returns 415 for other file types.
func TestHandleThumbnail_RejectsNonImage(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("text"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/thumbnail?path=%2Fnotes.txt", nil)
	w := httptest.NewRecorder()
	s.handleThumbnail(w, r)

	if w.Code != 415 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandleThumbnail_InvalidSize bounds the size parameter.
func TestHandleThumbnail_InvalidSize(t *testing.T) {
	s, root := newFileServer(t)
	writePNG(t, filepath.Join(root, "photo.png"), 8, 8)

	for _, v := range []string{"abc", "0", "9999"} {
		r := httptest.NewRequest("GET", "/api/thumbnail?path=%2Fphoto.png&size="+v, nil)
		w := httptest.NewRecorder()
		s.handleThumbnail(w, r)

		if w.Code != 400 {
			t.Fatalf("size=%q: status=%d body=%s", v, w.Code, strings.TrimSpace(w.Body.String()))
		}
	}
}

// TestHandleDownloadZip_BundlesSelections zips files and folders together.
func TestHandleDownloadZip_BundlesSelections(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "solo.txt"), []byte("solo"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	r := httptest.NewRequest("GET", "/api/download-zip?path=%2Fdocs&path=%2Fsolo.txt", nil)
	w := httptest.NewRecorder()
	s.handleDownloadZip(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	if ct := w.Header().Get("content-type"); ct != "application/zip" {
		t.Fatalf("content-type=%q", ct)
	}

	b := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	got := map[string]bool{}
	for _, f := range zr.File {
		got[f.Name] = true
	}
	if !got["docs/a.txt"] || !got["solo.txt"] {
		t.Fatalf("zip entries=%v", got)
	}
}

// TestHandleDownloadZip_ValidatesBeforeStreaming fails whole requests early.
func TestHandleDownloadZip_ValidatesBeforeStreaming(t *testing.T) {
	s, _ := newFileServer(t)

	r := httptest.NewRequest("GET", "/api/download-zip", nil)
	w := httptest.NewRecorder()
	s.handleDownloadZip(w, r)
	if w.Code != 400 {
		t.Fatalf("no path: status=%d", w.Code)
	}

	r = httptest.NewRequest("GET", "/api/download-zip?path=%2Fghost", nil)
	w = httptest.NewRecorder()
	s.handleDownloadZip(w, r)
	if w.Code != 404 {
		t.Fatalf("missing selection: status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandleDelete_RemovesTree deletes a folder recursively.
func TestHandleDelete_RemovesTree(t *testing.T) {
	s, root := newFileServer(t)
	if err := os.MkdirAll(filepath.Join(root, "docs", "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "docs", "sub", "x.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writefile: %v", err)
	}

	r := httptest.NewRequest("DELETE", "/api/delete?path=%2Fdocs", nil)
	w := httptest.NewRecorder()
	s.handleDelete(w, r)

	if w.Code != 200 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
	if _, err := os.Stat(filepath.Join(root, "docs")); !os.IsNotExist(err) {
		t.Fatalf("docs should be gone")
	}
}

// TestHandleDelete_Missing returns 404 for nonexistent targets.
func TestHandleDelete_Missing(t *testing.T) {
	s, _ := newFileServer(t)

	r := httptest.NewRequest("DELETE", "/api/delete?path=%2Fghost", nil)
	w := httptest.NewRecorder()
	s.handleDelete(w, r)

	if w.Code != 404 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}

// TestHandleDelete_Root refuses to delete the share root.
func TestHandleDelete_Root(t *testing.T) {
	s, _ := newFileServer(t)

	r := httptest.NewRequest("DELETE", "/api/delete?path=%2F", nil)
	w := httptest.NewRecorder()
	s.handleDelete(w, r)

	if w.Code != 400 {
		t.Fatalf("status=%d body=%s", w.Code, strings.TrimSpace(w.Body.String()))
	}
}
