// Package rpcserver holds the HTTP plumbing shared by the API: listening,
// serving with timeouts, panic recovery and JSON responses.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendermint/aquarius/libs/log"
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-Id"

// Config is a HTTP server configuration.
type Config struct {
	// The amount of time to wait for the request to be read.
	ReadTimeout time.Duration
	// The amount of time to wait for the response to be written.
	WriteTimeout time.Duration
	// Maximum size of request body, in bytes
	MaxBodyBytes int64
	// Maximum size of request header, in bytes
	MaxHeaderBytes int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxBodyBytes:   int64(1000000), // 1MB
		MaxHeaderBytes: 1 << 20,        // same as the net/http default
	}
}

// Listen starts a listener on listenAddr, which must be fully formed
// including the tcp:// or unix:// prefix.
func Listen(listenAddr string) (net.Listener, error) {
	parts := strings.SplitN(listenAddr, "://", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid listening address %s (use fully formed addresses, including the tcp:// or unix:// prefix)", listenAddr)
	}
	proto, addr := parts[0], parts[1]
	listener, err := net.Listen(proto, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %w", listenAddr, err)
	}
	return listener, nil
}

// Serve serves HTTP on listener until ctx is done, then shuts the server
// down gracefully. It always returns a non-nil error; after ctx is done the
// error is ctx.Err().
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger log.Logger, config *Config) error {
	logger.Info("serving HTTP", "listen_addr", listener.Addr())
	h := RecoverAndLogHandler(maxBytesHandler{h: handler, n: config.MaxBodyBytes}, logger)
	s := &http.Server{
		Handler:        h,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(listener) }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
		<-errc
		return ctx.Err()
	case err := <-errc:
		logger.Error("HTTP server stopped", "err", err)
		return err
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string          `json:"error"`
	Info  json.RawMessage `json:"info,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	bz, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		bz, _ = json.Marshal(ErrorResponse{Error: err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(bz)
}

// WriteError writes {"error": msg} with the given status.
func WriteError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	WriteJSON(w, status, ErrorResponse{Error: fmt.Sprintf(format, args...)})
}

//-----------------------------------------------------------------------------

// RecoverAndLogHandler wraps an HTTP handler, adding error logging and a
// request id. If the inner function panics, the outer function recovers,
// logs, sends an HTTP 500 error response.
func RecoverAndLogHandler(handler http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wrap the ResponseWriter to remember the status
		rww := &responseWriterWrapper{-1, w}
		begin := time.Now()

		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		rww.Header().Set(RequestIDHeader, reqID)
		rww.Header().Set("X-Server-Time", fmt.Sprintf("%v", begin.Unix()))

		defer func() {
			// Send a 500 error if a panic happens during a handler.
			// Without this, Chrome & Firefox were retrying aborted ajax requests,
			// at least to my localhost.
			if e := recover(); e != nil {
				if e == http.ErrAbortHandler {
					panic(e)
				}
				logger.Error("panic in HTTP handler", "err", e, "stack", string(debug.Stack()), "request_id", reqID)
				if rww.Status == -1 {
					WriteError(rww, http.StatusInternalServerError, "Internal Server Error: %v", e)
				}
			}

			// Finally, log.
			durationMS := time.Since(begin).Nanoseconds() / 1000000
			if rww.Status == -1 {
				rww.Status = 200
			}
			logger.Debug("served HTTP response",
				"method", r.Method, "url", r.URL,
				"status", rww.Status, "duration", durationMS,
				"remote_addr", r.RemoteAddr, "request_id", reqID,
			)
		}()

		handler.ServeHTTP(rww, r)
	})
}

// Remember the status for logging
type responseWriterWrapper struct {
	Status int
	http.ResponseWriter
}

func (w *responseWriterWrapper) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if w.Status == -1 {
		w.Status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// implements http.Hijacker
func (w *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

type maxBytesHandler struct {
	h http.Handler
	n int64
}

func (h maxBytesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.n > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.n)
	}
	h.h.ServeHTTP(w, r)
}
