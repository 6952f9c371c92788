package main

import (
	_ "embed"
	"errors"
	"html/template"
)

// ErrRenderTruncated reports that the response did not fit the render buffer.
var ErrRenderTruncated = errors.New("rendered response exceeds buffer")

// statusHeader precedes the page; it counts against the render buffer.
const statusHeader = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n"

//go:embed page.html.tmpl
var pageTemplateText string

var pageTemplate = template.Must(template.New("page").Parse(pageTemplateText))

type pageView struct {
	Button    int
	JoystickX uint16
}

// boundedWriter appends into buf without ever growing past limit.
type boundedWriter struct {
	buf      []byte
	limit    int
	overflow bool
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	room := w.limit - len(w.buf)
	if len(p) > room {
		w.buf = append(w.buf, p[:room]...)
		w.overflow = true
		return room, ErrRenderTruncated
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *boundedWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// renderStatus renders the complete response (status line, headers, page)
// into dst[:0], never exceeding limit bytes. On overflow it returns
// ErrRenderTruncated and the partial output must not be sent.
func renderStatus(dst []byte, limit int, snap StateSnapshot) ([]byte, error) {
	w := &boundedWriter{buf: dst[:0], limit: limit}

	if _, err := w.WriteString(statusHeader); err != nil {
		return w.buf, err
	}

	err := pageTemplate.Execute(w, pageView{
		Button:    snap.buttonValue(),
		JoystickX: snap.JoystickX,
	})
	if w.overflow {
		return w.buf, ErrRenderTruncated
	}
	if err != nil {
		return w.buf, err
	}
	return w.buf, nil
}
