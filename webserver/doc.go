// Package webserver dispatches HTTP requests to pluggable RequestHandlers.
//
// A Server keeps handler templates sorted by priority. For every request it
// checks Basic credentials, picks the first template whose CanHandleRequest
// accepts the request, creates a request scoped instance and drives it:
//
//   - GET and HEAD go through If-Modified-Since / If-Unmodified-Since
//     short circuits (304, 412) for cacheable handlers, then the Range and
//     If-Range headers decide whether the request is ranged.
//   - POST bodies are read in chunks and decoded as form fields, multipart
//     form fields or raw data before HandleRequest runs once.
//
// The declared Response is then finalized: content type, Last-Modified,
// caching headers, Accept-Ranges, and a body that is an error page, a
// redirect, an in-memory download or a streamed file. Several ranges are
// answered with a multipart/byteranges body of exact Content-Length.
//
//	s := webserver.New(webserver.Config{})
//	s.RegisterRequestHandler(handlers.NewVFSHandler("/srv/media"))
//	if err := s.Start(8080, "", ""); err != nil { log.Fatal(err) }
//	defer s.Stop()
package webserver
