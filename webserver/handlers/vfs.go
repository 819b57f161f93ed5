package handlers

import (
	"strings"

	"dqx0.com/go/webd/webserver"
)

const vfsPrefix = "/vfs/"

// VFSHandler serves /vfs/<path> from a set of source roots. Paths outside
// every root are not found.
type VFSHandler struct {
	FileHandler
	roots []string
}

func NewVFSHandler(roots ...string) *VFSHandler {
	return &VFSHandler{roots: cleanRoots(roots)}
}

func (h *VFSHandler) CanHandleRequest(req *webserver.Request) bool {
	return isRead(req) && strings.HasPrefix(req.FullPath, vfsPrefix)
}

func (h *VFSHandler) Create(req *webserver.Request) webserver.RequestHandler {
	c := &VFSHandler{roots: h.roots}
	p, _ := resolveIn(h.roots, strings.TrimPrefix(req.FullPath, vfsPrefix))
	c.Init(req, p)
	return c
}

func (h *VFSHandler) Priority() int { return 2 }
