// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package airpanel

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"strconv"
)

type client struct {
	refresh   chan struct{}
	terminate chan struct{}
}

// bufferChangedLocked drops cached encodings and wakes up every streaming
// client.
func (p *Panel) bufferChangedLocked() {
	for f := range p.snapshot {
		delete(p.snapshot, f)
	}
	for c := range p.clients {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

func (p *Panel) encodeLocked(format ImageFormat) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case PNG:
		if err := png.Encode(&buf, p.buffer); err != nil {
			return nil, err
		}
	case JPEG:
		if err := jpeg.Encode(&buf, p.buffer, &jpeg.Options{Quality: 90}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unhandled image format %s", format)
	}
	return buf.Bytes(), nil
}

// grabSnapshot returns the current buffer encoded in the requested format,
// reusing the cached encoding when the buffer hasn't changed.
func (p *Panel) grabSnapshot(format ImageFormat) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	encoded, ok := p.snapshot[format]
	if !ok {
		var err error
		encoded, err = p.encodeLocked(format)
		if err != nil {
			return nil, err
		}
		p.snapshot[format] = encoded
	}
	return encoded, nil
}

// randomBoundary generates a MIME multipart boundary compatible with
// RFC 2046 (section 5.1.1).
func randomBoundary() string {
	var buf [34]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", buf[:])
}

type partWriter struct {
	u        io.Writer
	boundary string
	started  bool
}

// writeFrame sends a single part of a MIME multipart entity, ensuring it's
// fully written by the time the function returns. "mime/multipart".Writer
// is not suitable for a neverending stream of parts where each must be
// flushed to the client with the part-ending boundary line.
func (w *partWriter) writeFrame(header textproto.MIMEHeader, body []byte) error {
	header.Set("Content-Length", strconv.Itoa(len(body)))

	var buf bytes.Buffer
	if !w.started {
		fmt.Fprintf(&buf, "--%s\r\n", w.boundary)
		w.started = true
	}
	for name := range header {
		for _, value := range header[name] {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	fmt.Fprintf(&buf, "\r\n--%s\r\n", w.boundary)

	_, err := buf.WriteTo(w.u)
	return err
}

// ServeHTTP handles HTTP GET requests and responds with a stream of images
// of the readout. The panel options control the default format; clients can
// explicitly request PNG or JPEG using the "format" parameter
// ("?format=png", "?format=jpeg").
func (p *Panel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	format := p.defaultFormat
	if value := r.URL.Query().Get("format"); value != "" {
		var err error
		if format, err = ImageFormatFromString(value); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	pw := partWriter{u: w, boundary: randomBoundary()}
	w.Header().Set("Content-Type",
		mime.FormatMediaType("multipart/x-mixed-replace", map[string]string{
			"boundary": pw.boundary,
		}))

	c := &client{
		refresh:   make(chan struct{}, 1),
		terminate: make(chan struct{}, 1),
	}
	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.clients, c)
		p.mu.Unlock()
	}()

	partHeaders := make(textproto.MIMEHeader)
	partHeaders.Set("Content-Type", mime.FormatMediaType(format.mimeType(), nil))
	partHeaders.Set("Content-Transfer-Encoding", "binary")

	for {
		payload, err := p.grabSnapshot(format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := pw.writeFrame(partHeaders, payload); err != nil {
			// Errors terminate the request silently. There's no good way to
			// deliver an error message to the client within an image stream.
			return
		}
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		select {
		case <-c.refresh:
		case <-c.terminate:
			return
		case <-r.Context().Done():
			return
		}
	}
}

var _ http.Handler = (*Panel)(nil)
