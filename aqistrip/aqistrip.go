// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package aqistrip implements a 1D display.Drawer that renders a rolling
// history of air quality index samples to the terminal (stdout) using ANSI
// color codes.
//
// Useful to watch a sensor settle through its warm-up phase without
// attaching a real display.
package aqistrip

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"

	"github.com/airqualitylabs/devices/ens160"
)

// Opts represents the options available for this display.
type Opts struct {
	// X is the number of samples kept on screen. Defaults to 32.
	X       int
	Palette *ansi256.Palette

	_ struct{}
}

// Dev renders one colored block per air quality sample, oldest on the left,
// to the console.
type Dev struct {
	w       io.Writer
	l       int
	palette ansi256.Palette

	pixels []byte
	buf    bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	x := opts.X
	if x < 1 {
		x = 32
	}
	d := &Dev{
		w:       colorable.NewColorableStdout(),
		l:       x,
		palette: *p,
		pixels:  make([]byte, 3*x),
	}
	return d
}

// Color maps an air quality index to its conventional severity color.
// Index values outside the UBA scale map to gray.
func Color(a ens160.AQI) color.NRGBA {
	switch a {
	case 1:
		return color.NRGBA{0x00, 0xE4, 0x00, 0xFF}
	case 2:
		return color.NRGBA{0x92, 0xD0, 0x50, 0xFF}
	case 3:
		return color.NRGBA{0xFF, 0xFF, 0x00, 0xFF}
	case 4:
		return color.NRGBA{0xFF, 0x7E, 0x00, 0xFF}
	case 5:
		return color.NRGBA{0xFF, 0x00, 0x00, 0xFF}
	default:
		return color.NRGBA{0x80, 0x80, 0x80, 0xFF}
	}
}

// Push appends a sample on the right of the strip, scrolling the history
// one block to the left, and redraws.
func (d *Dev) Push(a ens160.AQI) error {
	copy(d.pixels, d.pixels[3:])
	c := Color(a)
	d.pixels[len(d.pixels)-3] = c.R
	d.pixels[len(d.pixels)-2] = c.G
	d.pixels[len(d.pixels)-1] = c.B
	return d.refresh()
}

func (d *Dev) String() string {
	return "AQIStrip"
}

// Halt implements conn.Resource.
//
// It resets the terminal attributes so the scrollback is not corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Write accepts a stream of raw RGB pixels and writes it to the console.
// Pixels past the end of the strip are dropped.
func (d *Dev) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 {
		return 0, errors.New("pixel stream must be whole RGB triplets")
	}
	n := copy(d.pixels, pixels)
	return n, d.refresh()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: d.l, Y: 1}}
}

// Draw implements display.Drawer, so arbitrary sources can be rendered on
// the strip too. Only one row of src is used; pixels outside src are left
// untouched.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	srcR := src.Bounds()
	sY := sp.Y
	if sY < srcR.Min.Y || sY >= srcR.Max.Y {
		sY = srcR.Min.Y
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		sX := sp.X + x - r.Min.X
		if sX < srcR.Min.X || sX >= srcR.Max.X {
			continue
		}
		r16, g16, b16, _ := src.At(sX, sY).RGBA()
		i := 3 * x
		d.pixels[i] = byte(r16 >> 8)
		d.pixels[i+1] = byte(g16 >> 8)
		d.pixels[i+2] = byte(b16 >> 8)
	}
	return d.refresh()
}

// refresh redraws the whole strip in place, reusing d.buf between calls.
func (d *Dev) refresh() error {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i := 0; i+2 < len(d.pixels); i += 3 {
		c := color.NRGBA{R: d.pixels[i], G: d.pixels[i+1], B: d.pixels[i+2], A: 255}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
