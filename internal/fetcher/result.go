package fetcher

import (
	"encoding/json"
	"net/http"
)

// Status classifies the outcome of one fetch attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending"
)

// Result is the outcome of a fetch. It is one of Success, Failure or Pending;
// callers are expected to switch on the concrete type.
type Result interface {
	Status() Status
	Type() string
	URL() string
}

// Payload holds the items accumulated across all pages. Array bodies are
// flattened into it; an object body counts as a single item.
type Payload []json.RawMessage

// Response is a copy of an HTTP response kept for error reporting.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type meta struct {
	typ string
	url string
}

func (m meta) Type() string { return m.typ }
func (m meta) URL() string  { return m.url }

// Success carries the complete payload of a paginated fetch.
type Success struct {
	meta
	Data  Payload
	Pages int
}

func (Success) Status() Status { return StatusSuccess }

// Failure echoes the last response received, which is nil when the request
// never produced one.
type Failure struct {
	meta
	Response *Response
	Err      error
}

func (Failure) Status() Status { return StatusError }

// Pending reports that staged documents for the type are still waiting to be
// loaded, so no request was made.
type Pending struct {
	meta
	Message string
}

func (Pending) Status() Status { return StatusPending }

// NewPending builds a Pending result for the endpoint.
func NewPending(typ, url, message string) Pending {
	return Pending{meta: meta{typ: typ, url: url}, Message: message}
}

// NewSuccess builds a Success result.
func NewSuccess(typ, url string, data Payload, pages int) Success {
	return Success{meta: meta{typ: typ, url: url}, Data: data, Pages: pages}
}

// NewFailure builds a Failure result.
func NewFailure(typ, url string, resp *Response, err error) Failure {
	return Failure{meta: meta{typ: typ, url: url}, Response: resp, Err: err}
}
