package webserver_test

import (
	"fmt"

	"dqx0.com/go/webd/httpx"
	"dqx0.com/go/webd/webserver"
)

// hello answers every GET with a fixed text.
type hello struct {
	webserver.BaseHandler
}

func (h *hello) CanHandleRequest(r *webserver.Request) bool { return r.Method == webserver.MethodGet }

func (h *hello) Create(r *webserver.Request) webserver.RequestHandler {
	return &hello{BaseHandler: webserver.NewBaseHandler(r)}
}

func (h *hello) HandleRequest() error {
	h.SetMemoryResponse("text/plain", []byte("hello"))
	return nil
}

// Example_mount serves the dispatcher from a caller-owned daemon instead of
// Start.
func Example_mount() {
	s := webserver.New(webserver.Config{})
	if err := s.RegisterRequestHandler(&hello{}); err != nil {
		fmt.Println(err)
	}
	d := &httpx.Server{Addr: "127.0.0.1:8080", Handler: s}
	_ = d // d.ListenAndServe() in real usage
	fmt.Println(len(s.Handlers()))
	// Output:
	// 1
}
