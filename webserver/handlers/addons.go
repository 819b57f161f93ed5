package handlers

import (
	"bytes"
	"html/template"

	"dqx0.com/go/webd/webserver"
)

var addonsPage = template.Must(template.New("addons").Parse(`<!DOCTYPE html>
<html><head><title>Web interfaces</title></head><body>
<h1>Web interfaces</h1>
<ul>
{{- range .}}
<li><a href="/addons/{{.ID}}/">{{.Name}}</a></li>
{{- else}}
<li>No web interfaces installed</li>
{{- end}}
</ul>
</body></html>
`))

// WebinterfaceAddonsHandler renders the list of installed add-ons on
// /addons and /addons/.
type WebinterfaceAddonsHandler struct {
	webserver.BaseHandler
	addons AddonProvider
}

func NewWebinterfaceAddonsHandler(addons AddonProvider) *WebinterfaceAddonsHandler {
	return &WebinterfaceAddonsHandler{addons: addons}
}

func (h *WebinterfaceAddonsHandler) CanHandleRequest(req *webserver.Request) bool {
	return isRead(req) && (req.FullPath == "/addons" || req.FullPath == "/addons/")
}

func (h *WebinterfaceAddonsHandler) Create(req *webserver.Request) webserver.RequestHandler {
	return &WebinterfaceAddonsHandler{BaseHandler: webserver.NewBaseHandler(req), addons: h.addons}
}

func (h *WebinterfaceAddonsHandler) Priority() int { return 4 }

func (h *WebinterfaceAddonsHandler) HandleRequest() error {
	var list []Addon
	if h.addons != nil {
		list = h.addons.Addons()
	}
	var buf bytes.Buffer
	if err := addonsPage.Execute(&buf, list); err != nil {
		return err
	}
	h.SetMemoryResponse("text/html; charset=utf-8", buf.Bytes())
	return nil
}
