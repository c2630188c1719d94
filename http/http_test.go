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

package http

import (
	"testing"

	"github.com/cloudwego/receptor"
)

func MustNil(t *testing.T, val interface{}) {
	t.Helper()
	if val != nil {
		t.Fatal("assertion nil failed, val=", val)
	}
}

func MustTrue(t *testing.T, cond bool) {
	t.Helper()
	if !cond {
		t.Fatal("assertion true failed.")
	}
}

func Equal(t *testing.T, got, expect interface{}) {
	t.Helper()
	if got != expect {
		t.Fatalf("assertion equal failed, got=[%v], expect=[%v]", got, expect)
	}
}

func TestMethod(t *testing.T) {
	for _, name := range []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "PATCH", "TRACE", "CONNECT"} {
		m := ParseMethod(name)
		MustTrue(t, m != MethodUnknown)
		Equal(t, m.String(), name)
	}
	Equal(t, ParseMethod("get"), MethodUnknown)
	Equal(t, MethodUnknown.String(), "UNKNOWN")

	allowed := MethodGet | MethodHead
	MustTrue(t, allowed&ParseMethod("HEAD") != 0)
	MustTrue(t, allowed&MethodPost == 0)
	Equal(t, MethodConnect, Method(0x100))
}

func TestVersionAndStatus(t *testing.T) {
	Equal(t, Version11.String(), "HTTP/1.1")
	Equal(t, uint(Version20), uint(2000))
	Equal(t, StatusText(StatusNotFound), "Not Found")
	Equal(t, StatusText(StatusGatewayTimeout), "Gateway Timeout")
	Equal(t, StatusText(299), "")
	Equal(t, EncodingGzip.String(), "gzip")
}

func TestRequestHeaders(t *testing.T) {
	pool := receptor.NewPool(1024)
	defer pool.Destroy()
	r, err := NewRequest(pool, &Connection{AddrText: "127.0.0.1"})
	MustNil(t, err)
	MustTrue(t, r.Response.Request == r)
	Equal(t, r.ContentLength, int64(-1))

	MustNil(t, r.AddHeader("Host", "example.com"))
	MustNil(t, r.AddHeader("Accept", "*/*"))
	v, ok := r.Header("host")
	MustTrue(t, ok)
	Equal(t, v, "example.com")
	_, ok = r.Header("Cookie")
	MustTrue(t, !ok)

	MustNil(t, r.SetContentType("text/plain"))
	MustNil(t, r.SetContentLength(42))
	MustNil(t, r.SetContentLength(7))
	v, _ = r.Header("content-length")
	Equal(t, v, "7")
	Equal(t, r.HeadersIn.Len(), 4)

	MustNil(t, r.RemoveHeader("ACCEPT"))
	Equal(t, r.HeadersIn.Len(), 3)
	Equal(t, r.RemoveHeader("Accept"), ErrNoHeader)
	Equal(t, r.AddHeader("", "x"), receptor.ErrInvalidArgument)
	Equal(t, r.SetContentLength(-1), receptor.ErrInvalidArgument)
}

func TestRequestChunks(t *testing.T) {
	pool := receptor.NewPool(1024)
	defer pool.Destroy()
	r, err := NewRequest(pool, nil)
	MustNil(t, err)
	src := []byte("first")
	r.AddChunk(src)
	r.AddChunk([]byte("second"))
	src[0] = 'F'

	var got []string
	for c := r.Chunks; c != nil; c = c.Next {
		got = append(got, string(c.Data))
	}
	Equal(t, len(got), 2)
	Equal(t, got[0], "first")
	Equal(t, got[1], "second")
}

func TestNewRequestDestroyedPool(t *testing.T) {
	pool := receptor.NewPool(1024)
	pool.Destroy()
	_, err := NewRequest(pool, nil)
	Equal(t, err, receptor.ErrInvalidArgument)
}
