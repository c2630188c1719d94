// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http holds the data shapes of the HTTP layer: methods, versions,
// status codes and the request and response records. It has no parser.
package http

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/cloudwego/receptor"
)

// Method is a bit in a set of request methods.
type Method uint

const (
	MethodUnknown Method = 0
	MethodGet     Method = 0x0001
	MethodHead    Method = 0x0002
	MethodPost    Method = 0x0004
	MethodPut     Method = 0x0008
	MethodDelete  Method = 0x0010
	MethodOptions Method = 0x0020
	MethodPatch   Method = 0x0040
	MethodTrace   Method = 0x0080
	MethodConnect Method = 0x0100
)

var methodNames = [...]struct {
	m    Method
	name string
}{
	{MethodGet, "GET"},
	{MethodHead, "HEAD"},
	{MethodPost, "POST"},
	{MethodPut, "PUT"},
	{MethodDelete, "DELETE"},
	{MethodOptions, "OPTIONS"},
	{MethodPatch, "PATCH"},
	{MethodTrace, "TRACE"},
	{MethodConnect, "CONNECT"},
}

// ParseMethod maps a method token to its bit. Matching is case-sensitive.
func ParseMethod(name string) Method {
	for _, e := range methodNames {
		if e.name == name {
			return e.m
		}
	}
	return MethodUnknown
}

func (m Method) String() string {
	for _, e := range methodNames {
		if e.m == m {
			return e.name
		}
	}
	return "UNKNOWN"
}

// Version is major*1000+minor, with 9 standing for HTTP/0.9.
type Version uint

const (
	Version09 Version = 9
	Version10 Version = 1000
	Version11 Version = 1001
	Version20 Version = 2000
)

func (v Version) String() string {
	switch v {
	case Version09:
		return "HTTP/0.9"
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	case Version20:
		return "HTTP/2.0"
	}
	return "HTTP/?"
}

const (
	StatusContinue           = 100
	StatusSwitchingProtocols = 101
	StatusProcessing         = 102

	StatusOK             = 200
	StatusCreated        = 201
	StatusAccepted       = 202
	StatusNoContent      = 204
	StatusPartialContent = 206

	StatusMovedPermanently  = 301
	StatusFound             = 302
	StatusSeeOther          = 303
	StatusNotModified       = 304
	StatusTemporaryRedirect = 307
	StatusPermanentRedirect = 308

	StatusBadRequest       = 400
	StatusUnauthorized     = 401
	StatusForbidden        = 403
	StatusNotFound         = 404
	StatusMethodNotAllowed = 405
	StatusRequestTimeout   = 408
	StatusPayloadTooLarge  = 413
	StatusURITooLong       = 414

	StatusInternalServerError = 500
	StatusNotImplemented      = 501
	StatusBadGateway          = 502
	StatusServiceUnavailable  = 503
	StatusGatewayTimeout      = 504
)

var statusText = map[int]string{
	StatusContinue:            "Continue",
	StatusSwitchingProtocols:  "Switching Protocols",
	StatusProcessing:          "Processing",
	StatusOK:                  "OK",
	StatusCreated:             "Created",
	StatusAccepted:            "Accepted",
	StatusNoContent:           "No Content",
	StatusPartialContent:      "Partial Content",
	StatusMovedPermanently:    "Moved Permanently",
	StatusFound:               "Found",
	StatusSeeOther:            "See Other",
	StatusNotModified:         "Not Modified",
	StatusTemporaryRedirect:   "Temporary Redirect",
	StatusPermanentRedirect:   "Permanent Redirect",
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusRequestTimeout:      "Request Timeout",
	StatusPayloadTooLarge:     "Payload Too Large",
	StatusURITooLong:          "URI Too Long",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusBadGateway:          "Bad Gateway",
	StatusServiceUnavailable:  "Service Unavailable",
	StatusGatewayTimeout:      "Gateway Timeout",
}

// StatusText returns the reason phrase of code, or "" if it is unknown.
func StatusText(code int) string {
	return statusText[code]
}

// Buffer limits.
const (
	MaxHeaderSize      = 8192
	MaxURISize         = 4096
	MaxHeaderFieldSize = 8192
	MaxHeaderValueSize = 32768
)

// ParseState is the position of a request in the parsing sequence.
type ParseState int

const (
	ParseRequestLine ParseState = iota
	ParseHeader
	ParseBody
	ParseDone
	ParseError
)

// ContentEncoding is a body coding.
type ContentEncoding int

const (
	EncodingIdentity ContentEncoding = iota
	EncodingGzip
	EncodingDeflate
	EncodingBrotli
)

func (e ContentEncoding) String() string {
	switch e {
	case EncodingGzip:
		return "gzip"
	case EncodingDeflate:
		return "deflate"
	case EncodingBrotli:
		return "br"
	}
	return "identity"
}

var (
	ErrHeaderTooLarge = errors.New("header field too large")
	ErrNoHeader       = errors.New("header not found")
)

// Header is one header field. Key and Value live in the request Pool.
type Header struct {
	Key   []byte
	Value []byte
}

// Chunk is one piece of a chunked body.
type Chunk struct {
	Data []byte
	Next *Chunk
}

// Connection describes the transport a request arrived on.
type Connection struct {
	FD        uintptr
	AddrText  string
	SSL       bool
	KeepAlive bool
	Reusable  bool
}

// Request is an HTTP request. Everything it references is allocated from
// Pool and released with it.
type Request struct {
	Pool       *receptor.Pool
	Connection *Connection

	Method      Method
	MethodName  []byte
	URI         []byte
	Args        []byte
	Exten       []byte
	UnparsedURI []byte
	Version     Version

	HeadersIn  *receptor.List // *Header
	HeadersOut *receptor.List // *Header

	Body          []byte
	Chunks        *Chunk
	lastChunk     *Chunk
	ContentLength int64
	ContentType   []byte

	Response *Response

	State      ParseState
	Main       bool
	Error      bool
	HeaderSent bool
	HeaderOnly bool
}

// Response is the reply to a Request.
type Response struct {
	Request *Request

	Status     int
	StatusLine []byte

	Headers         *receptor.List // *Header
	ContentType     []byte
	ContentEncoding ContentEncoding
	ContentLength   int64

	Body   []byte
	Chunks *Chunk

	HeadersSent bool
	Chunked     bool
}

// NewRequest creates an empty request whose header lists and response live
// on pool.
func NewRequest(pool *receptor.Pool, conn *Connection) (*Request, error) {
	if pool == nil || pool.Destroyed() {
		return nil, receptor.ErrInvalidArgument
	}
	in, err := receptor.NewList(pool, 0)
	if err != nil {
		return nil, err
	}
	out, err := receptor.NewList(pool, 0)
	if err != nil {
		return nil, err
	}
	hdrs, err := receptor.NewList(pool, 0)
	if err != nil {
		return nil, err
	}
	r := &Request{
		Pool:          pool,
		Connection:    conn,
		HeadersIn:     in,
		HeadersOut:    out,
		ContentLength: -1,
		Main:          true,
	}
	r.Response = &Response{Request: r, Headers: hdrs, ContentLength: -1}
	return r, nil
}

// AddHeader appends key: value to the incoming headers.
func (r *Request) AddHeader(key, value string) error {
	if key == "" {
		return receptor.ErrInvalidArgument
	}
	if len(key) > MaxHeaderFieldSize || len(value) > MaxHeaderValueSize {
		return ErrHeaderTooLarge
	}
	h := &Header{
		Key:   r.Pool.Dup([]byte(key)),
		Value: r.Pool.Dup([]byte(value)),
	}
	return r.HeadersIn.PushBack(h)
}

func (r *Request) findHeader(key string) receptor.ListIter {
	return r.HeadersIn.Find([]byte(key), func(elem, k any) int {
		if bytes.EqualFold(elem.(*Header).Key, k.([]byte)) {
			return 0
		}
		return 1
	})
}

// Header returns the value of the first incoming header named key.
// Names compare case-insensitively.
func (r *Request) Header(key string) (string, bool) {
	it := r.findHeader(key)
	if !it.Valid() {
		return "", false
	}
	return string(it.Data().(*Header).Value), true
}

// RemoveHeader erases the first incoming header named key.
func (r *Request) RemoveHeader(key string) error {
	it := r.findHeader(key)
	if !it.Valid() {
		return ErrNoHeader
	}
	return r.HeadersIn.Erase(it)
}

// AddChunk appends a copy of data to the request body chunks.
func (r *Request) AddChunk(data []byte) {
	c := &Chunk{Data: r.Pool.Dup(data)}
	if r.lastChunk == nil {
		r.Chunks = c
	} else {
		r.lastChunk.Next = c
	}
	r.lastChunk = c
}

// SetContentType sets the request content type and its header.
func (r *Request) SetContentType(ct string) error {
	r.ContentType = r.Pool.Dup([]byte(ct))
	return r.setHeader("Content-Type", ct)
}

// SetContentLength sets the request content length and its header.
func (r *Request) SetContentLength(n int64) error {
	if n < 0 {
		return receptor.ErrInvalidArgument
	}
	r.ContentLength = n
	return r.setHeader("Content-Length", strconv.FormatInt(n, 10))
}

func (r *Request) setHeader(key, value string) error {
	if it := r.findHeader(key); it.Valid() {
		it.Data().(*Header).Value = r.Pool.Dup([]byte(value))
		return nil
	}
	return r.AddHeader(key, value)
}
