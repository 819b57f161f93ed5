// Package handlers holds the first-party RequestHandlers of a webserver:
// files from source roots (/vfs/), images and scaled renditions (/image/),
// JSON-RPC (/jsonrpc), and the web interface with its add-ons.
//
// Priorities decide overlaps: JSONRPCHandler 5, WebinterfaceAddonsHandler 4,
// ImageTransformationHandler 3, VFSHandler and ImageHandler 2, and the
// catch-all WebinterfaceHandler 0.
package handlers
