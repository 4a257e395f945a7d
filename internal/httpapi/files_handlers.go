package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/8gudbits/QuickServe/internal/fsutil"
	"github.com/8gudbits/QuickServe/internal/upload"
)

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	sp, err := s.resolveQueryPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	listing, err := s.Catalog.List(r.Context(), sp)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sp, err := s.resolveQueryPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.Catalog.Search(r.Context(), sp, r.URL.Query().Get("pattern"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleUpload stores one multipart file ("file" field) into the
// directory named by the "path" form value.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.MaxUploadBytes > 0 {
		// Headroom for the multipart framing around the capped payload.
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes+(1<<20))
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.fail(w, r, upload.ErrTooLarge)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart request"})
		return
	}

	dir, err := s.Sandbox.Resolve(r.FormValue("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file"})
		return
	}
	defer file.Close()

	entry, err := s.Uploads.Store(r.Context(), dir, hdr.Filename, file, s.MaxUploadBytes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sp, err := s.resolveQueryPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := os.Stat(sp.Abs())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if st.IsDir() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a file"})
		return
	}
	w.Header().Set("content-type", "application/octet-stream")
	w.Header().Set("content-disposition", attachmentDisposition(sp.Base()))
	http.ServeFile(w, r, sp.Abs())
}

// handlePreview streams a file inline, leaving the content type to the
// extension and sniffing done by ServeFile.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sp, err := s.resolveQueryPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := os.Stat(sp.Abs())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if st.IsDir() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a file"})
		return
	}
	http.ServeFile(w, r, sp.Abs())
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	sp, err := s.resolveQueryPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := os.Stat(sp.Abs())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if st.IsDir() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not a file"})
		return
	}
	if !isImageExt(strings.ToLower(filepath.Ext(sp.Abs()))) {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "not an image"})
		return
	}

	size := 256
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 1024 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid size"})
			return
		}
		size = n
	}

	b, err := makeThumb(sp.Abs(), size)
	if err != nil {
		if os.IsNotExist(err) {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "cannot decode image"})
		return
	}
	w.Header().Set("content-type", "image/jpeg")
	w.Header().Set("cache-control", "public, max-age=3600")
	_, _ = w.Write(b)
}

// handleDownloadZip streams a zip of one or more selections. Selections
// are validated before headers go out; once streaming started, errors
// can only truncate the stream.
func (s *Server) handleDownloadZip(w http.ResponseWriter, r *http.Request) {
	paths := r.URL.Query()["path"]
	if len(paths) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing path"})
		return
	}
	sels := make([]fsutil.SandboxedPath, 0, len(paths))
	for _, p := range paths {
		sp, err := s.Sandbox.Resolve(p)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if _, err := os.Stat(sp.Abs()); err != nil {
			s.fail(w, r, err)
			return
		}
		sels = append(sels, sp)
	}

	name := "download"
	if len(sels) == 1 && sels[0].Base() != "" {
		name = sels[0].Base()
	}
	w.Header().Set("content-type", "application/zip")
	w.Header().Set("content-disposition", attachmentDisposition(name+".zip"))
	if err := s.Archive.BuildZip(r.Context(), w, sels); err != nil {
		s.Logger.Warn("zip download aborted", "error", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sp, err := s.resolveQueryPath(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.Remover.Delete(r.Context(), sp)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(res.Failed) > 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "partial",
			"message": fmt.Sprintf("deleted %d items, %d could not be deleted (first: %s)", res.Deleted, len(res.Failed), res.Failed[0].Path),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": fmt.Sprintf("deleted %s", sp.Rel()),
	})
}
