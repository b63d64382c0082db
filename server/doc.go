// Package server exposes the compile cache over a local TCP socket.
//
// The wire protocol is deliberately small: each message is a
// length-prefixed JSON frame. Clients send one request per frame and
// read one response frame back; connections may be reused for multiple
// requests. The server shuts itself down after a configurable period
// with no requests, so build wrappers can spawn it on demand without
// leaving daemons behind.
package server
