package httpconn

import "fmt"

// errorPage renders a minimal self-contained HTML body for the core's own
// synthesized responses (spec §6/§7) — framing errors, routing misses, and
// authentication challenges never reach a Target, so Connection must answer
// them itself.
type errorPage struct {
	status  int
	reason  string
	body    string
	headers map[string]string
}

func newErrorPage(status int, reason, detail string) errorPage {
	return errorPage{
		status: status,
		reason: reason,
		body: fmt.Sprintf(
			"<html><body><h1>%d %s (%s)</h1></body></html>",
			status, reason, detail,
		),
	}
}

// pageBadRequest is sent when the preamble is malformed (spec §4.6
// ReadingPreamble failure transitions).
func pageBadRequest(detail string) errorPage {
	return newErrorPage(400, "Bad Request", detail)
}

// pagePreambleTooLarge is the specific 400 for an over-long preamble.
func pagePreambleTooLarge() errorPage {
	return newErrorPage(400, "Bad Request", "Headers too long")
}

// pageNotFound is sent when Router finds no matching prefix (spec §4.7).
func pageNotFound() errorPage {
	return newErrorPage(404, "Not Found", "No endpoint is registered for this request")
}

// pageUnauthorized is sent when authentication fails; challenge becomes the
// WWW-Authenticate header value (spec §4.9).
func pageUnauthorized(challenge string) errorPage {
	p := newErrorPage(401, "Unauthorized", "Authentication is required")
	p.headers = map[string]string{"WWW-Authenticate": challenge}
	return p
}

// pageRequestTimeout is sent when the preamble read deadline (first-request
// or keep-alive) elapses while ReadingPreamble (spec §4.6).
func pageRequestTimeout() errorPage {
	return newErrorPage(408, "Request Timeout", "The connection timed out waiting for a request")
}

// pageTooManyAuthAttempts is sent once MaxAuthRetries is exceeded (spec §9
// Open Question, resolved as an explicit bounded policy).
func pageTooManyAuthAttempts() errorPage {
	return newErrorPage(401, "Unauthorized", "Too many authentication attempts")
}

// render returns the status line, headers, and body in one buffer. Every
// rendered page carries Connection: close. Connection closes the socket
// after every synthesized page except the 401 authentication challenge,
// after which it keeps reading requests on the same socket.
func (e errorPage) render(protoMajor, protoMinor int) []byte {
	buf := make([]byte, 0, len(e.body)+256)
	buf = append(buf, fmt.Sprintf("HTTP/%d.%d %d %s\r\n", protoMajor, protoMinor, e.status, e.reason)...)
	buf = append(buf, fmt.Sprintf("Content-Length: %d\r\n", len(e.body))...)
	buf = append(buf, "Content-Type: text/html; charset=utf-8\r\n"...)
	buf = append(buf, "Connection: close\r\n"...)
	for k, v := range e.headers {
		buf = append(buf, fmt.Sprintf("%s: %s\r\n", k, v)...)
	}
	buf = append(buf, "\r\n"...)
	buf = append(buf, e.body...)
	return buf
}
