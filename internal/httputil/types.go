package httputil

import "net/http"

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Preview returns a short printable excerpt of the body for logs and errors.
func (r *Response) Preview() string {
	return SafeStringPreview(r.Body, previewLen)
}
