package handlers

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"dqx0.com/go/webd/webserver"
)

// FileHandler serves one local file as a ranged, cacheable download.
// Handlers embed it and call Init from their Create, so that the last
// modification time is known before the dispatcher checks preconditions.
type FileHandler struct {
	webserver.BaseHandler
	path    string
	modTime time.Time
	found   bool
}

// Init binds the request scoped state to req and the file at path. An empty
// path, a missing file or a non-regular file answers 404.
func (h *FileHandler) Init(req *webserver.Request, path string) {
	h.BaseHandler = webserver.NewBaseHandler(req)
	h.path = path
	h.found = false
	if path == "" {
		return
	}
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		h.found = true
		h.modTime = fi.ModTime()
	}
}

// Path returns the file the handler serves.
func (h *FileHandler) Path() string { return h.path }

func (h *FileHandler) HandleRequest() error {
	if !h.found {
		h.SetError(404)
		return nil
	}
	h.SetFileResponse(h.path, 200)
	return nil
}

func (h *FileHandler) CanHandleRanges() bool { return true }

func (h *FileHandler) CanBeCached() bool { return h.found }

func (h *FileHandler) LastModified() (time.Time, bool) {
	return h.modTime, h.found
}

// cleanRoots makes roots absolute and clean, dropping empty entries.
func cleanRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		out = append(out, filepath.Clean(r))
	}
	return out
}

// resolveIn maps a requested name onto one of roots. Names are NFC
// normalised first. An absolute name must lie inside a root; a relative one
// is looked up in every root and the first existing match wins.
func resolveIn(roots []string, name string) (string, bool) {
	name = norm.NFC.String(name)
	if name == "" || strings.ContainsRune(name, 0) {
		return "", false
	}
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) {
		p := filepath.Clean(name)
		for _, root := range roots {
			if within(root, p) {
				return p, true
			}
		}
		return "", false
	}
	var first string
	for _, root := range roots {
		p := filepath.Join(root, name)
		if !within(root, p) {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		if first == "" {
			first = p
		}
	}
	return first, first != ""
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isRead(req *webserver.Request) bool {
	return req.Method == webserver.MethodGet || req.Method == webserver.MethodHead
}
