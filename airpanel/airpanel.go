// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package airpanel serves a live air quality readout as an HTTP request
// handler. Client requests get an initial snapshot of the rendered readout
// and are updated further on every new set of measurements.
//
// The primary use case is watching a gas sensor from a browser while
// developing on a headless board. The protocol used is "MJPEG"
// (https://en.wikipedia.org/wiki/Motion_JPEG); because of its better
// suitability for computer-drawn graphics the PNG image format is used by
// default, JPEG can be selected via Options.Format or the "format" URL
// parameter.
package airpanel

import (
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/airqualitylabs/devices/aqistrip"
	"github.com/airqualitylabs/devices/ens160"
)

// Options for the panel.
type Options struct {
	// Width and height of the rendered image. Zero values pick a size
	// comfortable for the default font.
	Width, Height int

	// Format specifies the image format to send to clients.
	Format ImageFormat

	// Face is the font face used for the readout text. Defaults to
	// basicfont.Face7x13.
	Face font.Face
}

// Panel renders the most recent readings of a sensor into an image buffer
// and streams it to HTTP clients.
type Panel struct {
	defaultFormat ImageFormat
	face          font.Face

	mu       sync.Mutex
	buffer   *image.RGBA
	env      ens160.Env
	hasData  bool
	clients  map[*client]struct{}
	snapshot map[ImageFormat][]byte
}

// New creates a panel. It starts out displaying a placeholder until the
// first Update().
func New(opt *Options) *Panel {
	w, h := opt.Width, opt.Height
	if w == 0 {
		w = 240
	}
	if h == 0 {
		h = 160
	}
	face := opt.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	p := &Panel{
		defaultFormat: opt.Format,
		face:          face,
		buffer:        image.NewRGBA(image.Rect(0, 0, w, h)),
		clients:       map[*client]struct{}{},
		snapshot:      map[ImageFormat][]byte{},
	}
	p.mu.Lock()
	p.renderLocked()
	p.mu.Unlock()
	return p
}

// String returns the name of the device.
func (p *Panel) String() string {
	return "AirPanel"
}

// Update redraws the panel with the given readings and pushes a refresh to
// all connected clients.
func (p *Panel) Update(e ens160.Env) {
	p.mu.Lock()
	p.env = e
	p.hasData = true
	p.renderLocked()
	p.bufferChangedLocked()
	p.mu.Unlock()
}

// Halt implements conn.Resource and terminates all running client requests
// asynchronously.
func (p *Panel) Halt() error {
	p.mu.Lock()
	for c := range p.clients {
		select {
		case c.terminate <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()
	return nil
}

func (p *Panel) renderLocked() {
	dc := gg.NewContextForRGBA(p.buffer)
	w := float64(p.buffer.Bounds().Dx())
	h := float64(p.buffer.Bounds().Dy())
	dc.SetFontFace(p.face)

	dc.SetColor(color.NRGBA{0x18, 0x18, 0x18, 0xFF})
	dc.Clear()

	if !p.hasData {
		dc.SetColor(color.NRGBA{0xC0, 0xC0, 0xC0, 0xFF})
		dc.DrawStringAnchored("waiting for readings", w/2, h/2, 0.5, 0.5)
		return
	}

	// Severity banner across the top, colored like the strip display.
	dc.SetColor(aqistrip.Color(p.env.AQI))
	dc.DrawRectangle(0, 0, w, h/4)
	dc.Fill()
	dc.SetColor(color.NRGBA{0x00, 0x00, 0x00, 0xFF})
	dc.DrawStringAnchored("AQI "+p.env.AQI.String(), w/2, h/8, 0.5, 0.5)

	dc.SetColor(color.NRGBA{0xF0, 0xF0, 0xF0, 0xFF})
	dc.DrawStringAnchored("eCO2  "+p.env.ECO2.String(), w/2, h/2, 0.5, 0.5)
	dc.DrawStringAnchored("TVOC  "+p.env.TVOC.String(), w/2, 3*h/4, 0.5, 0.5)
}
