package handlers

import (
	"strings"

	"dqx0.com/go/webd/webserver"
)

const (
	imagePrefix = "/image/"
	oneYear     = 365 * 24 * 60 * 60
)

// ImageHandler serves original images below /image/ and lets clients cache
// them for a year.
type ImageHandler struct {
	FileHandler
	roots []string
}

func NewImageHandler(roots ...string) *ImageHandler {
	return &ImageHandler{roots: cleanRoots(roots)}
}

func (h *ImageHandler) CanHandleRequest(req *webserver.Request) bool {
	return isRead(req) && strings.HasPrefix(req.FullPath, imagePrefix)
}

func (h *ImageHandler) Create(req *webserver.Request) webserver.RequestHandler {
	c := &ImageHandler{roots: h.roots}
	p, _ := resolveIn(h.roots, strings.TrimPrefix(req.FullPath, imagePrefix))
	c.Init(req, p)
	return c
}

func (h *ImageHandler) Priority() int { return 2 }

func (h *ImageHandler) MaxAge() int { return oneYear }
