// Package httpx provides a small, security-minded HTTP/1.1 daemon aimed at
// embedding in applications that need explicit control over the wire.
//
// Highlights
//   - One goroutine per connection, keep-alive, chunked transfer,
//     delayed Expect: 100-continue, CL/TE validation, header size limits.
//   - Fixed-length, chunked or close-delimited response bodies picked from
//     the headers the handler sets; HEAD, 204 and 304 never carry a body.
//   - Inactivity timeout per connection, connection cap per listener,
//     TLS, graceful shutdown, panic isolation per connection.
//   - Dual-stack listening: Listen makes tcp6 sockets IPv6-only so a tcp4
//     and a tcp6 listener can bind the same port.
//   - Observability: plug-in Logger and Meter interfaces.
//
// Quick start:
//
//	s := &httpx.Server{Addr: ":8080"}
//	s.Handler = httpx.HandlerFunc(func(w httpx.ResponseWriter, r *httpx.Request) {
//	    w.Header().Set("Content-Type", "text/plain; charset=utf-8")
//	    w.Header().Set("Content-Length", "5")
//	    w.WriteHeader(200)
//	    w.Write([]byte("hello"))
//	})
//	if err := s.ListenAndServe(); err != nil { log.Fatal(err) }
package httpx
