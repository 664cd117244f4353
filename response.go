package engine

import (
	"bytes"
	"fmt"
	"text/template"
)

// defaultErrorPage is the fallback HTML body for synthesized error
// responses,
// grounded on MK_REQUEST_DEFAULT_PAGE in the original's request header.
var defaultErrorPage = template.Must(template.New("error").Parse(
	`<html><head><title>{{.Code}} {{.Reason}}</title></head>` +
		`<body><h1>{{.Reason}}</h1><p>{{.Message}}</p></body></html>`))

type errorPageData struct {
	Code    int
	Reason  string
	Message string
}

var statusReasons = map[int]string{
	400: "Bad Request",
	404: "Not Found",
	413: "Request Entity Too Large",
	500: "Internal Server Error",
}

// renderErrorPage builds the status line, a minimal header block and an
// HTML body for a synthetic error response, returned as an IOV-ready
// scatter/gather vector so it can be appended to a Channel as one
// Stream.
func renderErrorPage(code int, message string) [][]byte {
	reason := statusReasons[code]
	if reason == "" {
		reason = "Error"
	}
	var body bytes.Buffer
	_ = defaultErrorPage.Execute(&body, errorPageData{Code: code, Reason: reason, Message: message})

	statusLine := fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reason)
	headers := fmt.Sprintf("Content-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", body.Len())

	return [][]byte{
		[]byte(statusLine),
		[]byte(headers),
		body.Bytes(),
	}
}
