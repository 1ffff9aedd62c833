// Package streamserver implements the Playlist/Segment Server (C7):
// read-only serving of a job's working directory tree under
// /stream/{job_id}/..., §4.7. Grounded on net/http.FileServer as used
// throughout the pack for static asset serving, scoped per-job so a client
// can never read outside its own job's directory.
package streamserver

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"transcodeserver/internal/apierror"
)

// WorkingDirResolver maps a job id to its on-disk working directory,
// returning an apierror not_found if the job is unknown. The registry
// satisfies this via a thin adapter over Registry.Get in cmd/transcodeserver.
type WorkingDirResolver func(jobID string) (string, error)

// Server serves segment/playlist files for jobs that have one.
type Server struct {
	resolve WorkingDirResolver
	log     zerolog.Logger
}

// New constructs a Server.
func New(resolve WorkingDirResolver, log zerolog.Logger) *Server {
	return &Server{resolve: resolve, log: log}
}

// Register wires the /stream/{job_id}/{rest:.*} route onto r.
func (s *Server) Register(r *mux.Router) {
	r.PathPrefix("/stream/{job_id}/").HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["job_id"]

	workingDir, err := s.resolve(jobID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	prefix := "/stream/" + jobID + "/"
	rel := r.URL.Path
	if len(rel) < len(prefix) {
		http.NotFound(w, r)
		return
	}
	rel = rel[len(prefix):]

	// path.Clean-equivalent traversal guard: filepath.Join already collapses
	// "..", but reject any request that still escapes workingDir after
	// joining, defense against a crafted "../../" segment.
	full := filepath.Join(workingDir, rel)
	if !withinDir(workingDir, full) {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		// §4.7: segments not yet written return plain 404, not an API error
		// envelope, since this surface serves static files, not JSON.
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, full)
}

func withinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func writeAPIError(w http.ResponseWriter, err error) {
	code := apierror.CodeInternal
	msg := err.Error()
	if e, ok := apierror.As(err); ok {
		code = e.Code
		msg = e.Message
	}
	http.Error(w, msg, apierror.HTTPStatus(code))
}
