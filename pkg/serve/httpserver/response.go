// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

const (
	ErrorMessageKey = "X-Dogma-Error-Message"
	JSON_MIME       = "application/json"
)

// ResponseWriter shadow ResponseWriter
type ResponseWriter struct {
	http.ResponseWriter
	written    int64
	statusCode int
	remoteAddr string
}

// NewResponseWriter bind ResponseWriter
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK, remoteAddr: parseRemoteAddress(r)}
}

// Write data
func (w *ResponseWriter) Write(data []byte) (int, error) {
	written, err := w.ResponseWriter.Write(data)
	w.written += int64(written)
	return written, err
}

// WriteHeader write header statusCode
func (w *ResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// StatusCode return statusCode
func (w *ResponseWriter) StatusCode() int {
	return w.statusCode
}

// Written return body size
func (w *ResponseWriter) Written() int64 {
	return w.written
}

func (w *ResponseWriter) RemoteAddr() string {
	return w.remoteAddr
}

func parseRemoteAddress(r *http.Request) string {
	xForwardedFor := r.Header.Get("X-Forwarded-For")
	if addr := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0]); len(addr) != 0 {
		return addr
	}
	if addr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); len(addr) != 0 {
		return addr
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ErrorBody is the wire form of every failure.
type ErrorBody struct {
	Exception string `json:"exception"`
	Message   string `json:"message"`
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(kind plumbing.Kind) int {
	switch kind {
	case plumbing.KindEntryNotFound, plumbing.KindRevisionNotFound,
		plumbing.KindRepositoryNotFound, plumbing.KindProjectNotFound:
		return http.StatusNotFound
	case plumbing.KindRepositoryExists, plumbing.KindProjectExists,
		plumbing.KindChangeConflict, plumbing.KindRedundantChange:
		return http.StatusConflict
	case plumbing.KindInvalidPush, plumbing.KindQueryExecution,
		plumbing.KindChangeFormat, plumbing.KindBadRequest:
		return http.StatusBadRequest
	case plumbing.KindAuthorization:
		return http.StatusForbidden
	case plumbing.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case plumbing.KindReadOnly, plumbing.KindShuttingDown:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// renderError translates a taxonomy error into its status code and body.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := plumbing.KindOf(err)
	if !ok {
		renderFailureFormat(w, r, http.StatusInternalServerError, "internal error: %v", err)
		return
	}
	resp := &ErrorBody{Exception: string(kind), Message: err.Error()}
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(statusOf(kind))
	_ = json.NewEncoder(w).Encode(resp)
	r.Header.Set(ErrorMessageKey, resp.Message)
}

func renderFailureFormat(w http.ResponseWriter, r *http.Request, code int, format string, a ...any) {
	resp := &ErrorBody{
		Exception: "Unexpected",
		Message:   fmt.Sprintf(format, a...),
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Exception = string(plumbing.KindAuthorization)
	case http.StatusBadRequest:
		resp.Exception = string(plumbing.KindBadRequest)
	}
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
	if code != 200 {
		r.Header.Set(ErrorMessageKey, resp.Message)
	}
}

// JsonEncode writes a success body. JSON is always UTF-8 per RFC 8259.
func JsonEncode(w http.ResponseWriter, code int, a any) {
	w.Header().Set("Content-Type", JSON_MIME)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(a)
}
