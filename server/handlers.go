package server

import (
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/history"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/pulse/async"
	"github.com/teranos/scribe/version"
)

const (
	// multipartMemory is how much of a multipart body is held in memory
	// before spilling to temp files.
	multipartMemory = 32 << 20
	// multipartOverhead allows for boundaries and the url field on top of
	// the upload itself.
	multipartOverhead = 1 << 20
)

// HandleJobs handles /jobs
// GET: list live jobs, oldest first
// POST: submit a job from a multipart `file` or a `url` field
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodPost {
		s.handleCreateJob(w, r)
		return
	}

	jobs := s.dispatcher.ListJobs()
	if jobs == nil {
		jobs = []*async.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, msgUploadTooBig)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	rawURL := strings.TrimSpace(r.FormValue(FormFieldURL))
	file, header, fileErr := r.FormFile(FormFieldFile)
	hasFile := fileErr == nil
	if hasFile {
		defer file.Close()
	}

	switch {
	case hasFile && rawURL != "":
		writeError(w, http.StatusBadRequest, msgBothSources)
		return
	case !hasFile && rawURL == "":
		writeError(w, http.StatusBadRequest, msgNoSource)
		return
	}

	var (
		id  string
		err error
	)
	if hasFile {
		if header.Size > s.maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, msgUploadTooBig)
			return
		}
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}
		if len(data) == 0 {
			writeError(w, http.StatusBadRequest, msgEmptyUpload)
			return
		}
		id, err = s.dispatcher.CreateJobFromUpload(r.Context(), header.Filename, data)
	} else {
		id, err = s.dispatcher.CreateJobFromURL(r.Context(), rawURL)
	}
	if err != nil {
		s.writeDispatchError(w, r, err)
		return
	}

	logger.FromContext(logger.WithJobID(r.Context(), id), s.logger).Infow("Job submitted",
		"upload", hasFile)
	writeJSON(w, http.StatusCreated, CreateJobResponse{ID: id})
}

// HandleJob handles GET /jobs/{id}
func (s *Server) HandleJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := s.dispatcher.GetJobState(r.PathValue("id"))
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, msgJobNotFound)
			return
		}
		s.writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleJobDownload handles GET /jobs/{id}/download
func (s *Server) HandleJobDownload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	id := r.PathValue("id")
	path, err := s.dispatcher.GetJobResult(id)
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, msgNoResult)
			return
		}
		s.writeDispatchError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		// Removed by retention between the lookup and the open
		writeError(w, http.StatusNotFound, msgNoResult)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeDispatchError(w, r, errors.Wrapf(err, "failed to stat result for job %s", shortID(id)))
		return
	}

	name := id + ".txt"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// HandleHistory handles GET /history
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	records, err := s.dispatcher.History(r.Context())
	if err != nil {
		s.writeDispatchError(w, r, errors.Wrap(err, "failed to read history"))
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleHealth handles GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Version:    version.Get(),
		QueueDepth: s.dispatcher.QueueDepth(),
		Metrics:    s.dispatcher.Metrics(),
	}
	if s.checker != nil {
		report := s.checker.Run(s.diagSettings)
		resp.Diagnostics = &report
		if report.HasFailures {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
