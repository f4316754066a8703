package providertest

import (
	"io"
	"net/http"
	"strings"
)

// Response builds a canned HTTP response for mocked clients.
func Response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
