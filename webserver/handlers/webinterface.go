package handlers

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"dqx0.com/go/webd/webserver"
)

// Addon is an installed web interface add-on.
type Addon struct {
	ID   string
	Name string
	// Root is the directory the add-on's files are served from.
	Root string
}

// AddonProvider lists the installed add-ons.
type AddonProvider interface {
	Addons() []Addon
}

// StaticAddons is a fixed add-on list.
type StaticAddons []Addon

func (s StaticAddons) Addons() []Addon { return s }

// DirAddons treats every subdirectory of a directory as an add-on named
// after it. The directory is read on every call.
type DirAddons string

func (d DirAddons) Addons() []Addon {
	entries, err := os.ReadDir(string(d))
	if err != nil {
		return nil
	}
	var out []Addon
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, Addon{ID: e.Name(), Name: e.Name(), Root: filepath.Join(string(d), e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func findAddon(p AddonProvider, id string) (Addon, bool) {
	if p == nil {
		return Addon{}, false
	}
	for _, a := range p.Addons() {
		if a.ID == id {
			return a, true
		}
	}
	return Addon{}, false
}

const addonsPrefix = "/addons/"

var indexFiles = []string{"index.html", "index.htm"}

// WebinterfaceHandler serves the web interface below "/" and the files of
// add-ons below /addons/<id>/. Directories are answered with their index
// file; a directory requested without a trailing slash is redirected.
type WebinterfaceHandler struct {
	FileHandler
	root   string
	addons AddonProvider

	redirect string
}

func NewWebinterfaceHandler(root string, addons AddonProvider) *WebinterfaceHandler {
	roots := cleanRoots([]string{root})
	if len(roots) == 1 {
		root = roots[0]
	}
	return &WebinterfaceHandler{root: root, addons: addons}
}

func (h *WebinterfaceHandler) CanHandleRequest(req *webserver.Request) bool {
	return isRead(req)
}

func (h *WebinterfaceHandler) Create(req *webserver.Request) webserver.RequestHandler {
	c := &WebinterfaceHandler{root: h.root, addons: h.addons}
	c.Init(req, "")

	root, rel := h.root, req.FullPath
	if strings.HasPrefix(rel, addonsPrefix) {
		id, rest, _ := strings.Cut(strings.TrimPrefix(rel, addonsPrefix), "/")
		a, ok := findAddon(h.addons, id)
		if !ok || a.Root == "" {
			return c
		}
		root, rel = a.Root, "/"+rest
	}
	if root == "" {
		return c
	}

	p := filepath.Join(root, filepath.FromSlash(path.Clean("/"+rel)))
	fi, err := os.Stat(p)
	if err != nil {
		return c
	}
	if fi.IsDir() {
		if !strings.HasSuffix(req.FullPath, "/") {
			c.redirect = req.FullPath + "/"
			if u := req.Conn.URL; u != nil {
				c.redirect = u.EscapedPath() + "/"
				if u.RawQuery != "" {
					c.redirect += "?" + u.RawQuery
				}
			}
			return c
		}
		for _, name := range indexFiles {
			if fi, err := os.Stat(filepath.Join(p, name)); err == nil && fi.Mode().IsRegular() {
				c.Init(req, filepath.Join(p, name))
				return c
			}
		}
		return c
	}
	c.Init(req, p)
	return c
}

func (h *WebinterfaceHandler) Priority() int { return 0 }

func (h *WebinterfaceHandler) HandleRequest() error {
	if h.redirect != "" {
		h.SetRedirect(h.redirect, 301)
		return nil
	}
	return h.FileHandler.HandleRequest()
}
