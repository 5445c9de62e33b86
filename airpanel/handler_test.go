// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package airpanel

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/airqualitylabs/devices/aqistrip"
	"github.com/airqualitylabs/devices/ens160"
)

type streamCase struct {
	name          string
	opt           Options
	target        string
	wantMediaType string

	onImage func(*testing.T, image.Image)
}

func (tc *streamCase) validatePart(t *testing.T, part *multipart.Part) {
	t.Helper()

	contentLength, err := strconv.Atoi(part.Header.Get("Content-Length"))
	if err != nil {
		t.Errorf("parsing Content-Length header failed: %v", err)
	}

	decodeFunc := func(io.Reader) (image.Image, error) {
		return nil, errors.New("unknown image format")
	}
	if mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type")); err != nil {
		t.Errorf("ParseMediaType() failed: %v", err)
	} else if mediaType != tc.wantMediaType {
		t.Errorf("got content-type %q, want %q", mediaType, tc.wantMediaType)
	} else {
		switch mediaType {
		case "image/png":
			decodeFunc = png.Decode
		case "image/jpeg":
			decodeFunc = jpeg.Decode
		}
	}

	if content, err := io.ReadAll(part); err != nil {
		t.Errorf("ReadAll() failed: %v", err)
	} else if got, want := len(content), contentLength; got != want {
		t.Errorf("read %d bytes, Content-Length header is %d", got, want)
	} else if img, err := decodeFunc(bytes.NewReader(content)); err != nil {
		t.Errorf("decoding image failed: %v", err)
	} else if got, want := img.Bounds().Size(), (image.Point{tc.opt.Width, tc.opt.Height}); got != want {
		t.Errorf("got image size %v, want %v", got, want)
	} else if tc.onImage != nil {
		tc.onImage(t, img)
	}

	if err := part.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

func (tc *streamCase) validateResponse(t *testing.T, resp *http.Response) {
	t.Helper()

	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Errorf("ServeHTTP() status %d, want %d", got, want)
	}

	mediaType, mediaParams, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Errorf("ParseMediaType() failed: %v", err)
		return
	}
	if got, want := mediaType, "multipart/x-mixed-replace"; got != want {
		t.Errorf("Content-Type is %q, want %q", got, want)
		return
	}
	boundary, ok := mediaParams["boundary"]
	if !ok || len(boundary) < 50 {
		t.Errorf("insufficient boundary: %s", boundary)
		return
	}

	mr := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			t.Errorf("NextPart() failed: %v", err)
			break
		}
		tc.validatePart(t, part)
	}
}

func TestMultipartResponse(t *testing.T) {
	for _, tc := range []streamCase{
		{
			name:          "defaults",
			opt:           Options{Width: 120, Height: 100, Format: DefaultFormat},
			target:        "/",
			wantMediaType: "image/png",
		},
		{
			name:          "default JPEG",
			opt:           Options{Width: 200, Height: 100, Format: JPEG},
			target:        "/",
			wantMediaType: "image/jpeg",
		},
		{
			name:          "format param PNG",
			opt:           Options{Width: 234, Height: 123, Format: JPEG},
			target:        "/?format=png",
			wantMediaType: "image/png",
		},
		{
			name:          "format param JPEG",
			opt:           Options{Width: 123, Height: 66, Format: PNG},
			target:        "/?format=jpeg",
			wantMediaType: "image/jpeg",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			t.Cleanup(cancel)

			p := New(&tc.opt)

			srv := httptest.NewServer(p)
			t.Cleanup(srv.Close)
			t.Cleanup(srv.CloseClientConnections)

			quit := make(chan struct{})
			remaining := 5

			tc.onImage = func(*testing.T, image.Image) {
				if remaining == 0 {
					tc.onImage = nil
					defer close(quit)
					if err := p.Halt(); err != nil {
						t.Errorf("Halt() failed: %v", err)
					}
				} else {
					remaining--
				}
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				var eco2 ens160.PPM
				for {
					p.Update(ens160.Env{AQI: 2, ECO2: 500 + eco2, TVOC: 120})
					eco2++

					select {
					case <-quit:
						return
					case <-ctx.Done():
						return
					default:
					}
					time.Sleep(10 * time.Millisecond)
				}
			}()

			if resp, err := srv.Client().Get(srv.URL + tc.target); err != nil {
				t.Errorf("Get() failed: %v", err)
			} else {
				tc.validateResponse(t, resp)
			}

			if t.Failed() {
				cancel()
			}
			wg.Wait()
		})
	}
}

func TestRequestStatus(t *testing.T) {
	for _, tc := range []struct {
		method     string
		target     string
		wantStatus int
	}{
		{target: "/?format=", wantStatus: http.StatusOK},
		{target: "/?format=bmp", wantStatus: http.StatusBadRequest},
		{method: http.MethodPost, target: "/", wantStatus: http.StatusMethodNotAllowed},
	} {
		t.Run(tc.target, func(t *testing.T) {
			p := New(&Options{Width: 16, Height: 16})

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			t.Cleanup(cancel)

			srv := httptest.NewServer(p)
			t.Cleanup(srv.Close)
			t.Cleanup(srv.CloseClientConnections)

			req, err := http.NewRequestWithContext(ctx, tc.method, srv.URL+tc.target, nil)
			if err != nil {
				t.Fatalf("NewRequest() failed: %v", err)
			}
			if resp, err := srv.Client().Do(req); err != nil {
				t.Errorf("Do() failed: %v", err)
			} else if got, want := resp.StatusCode, tc.wantStatus; got != want {
				t.Errorf("request for %s %s returned status %d (%s), want %d",
					req.Method, req.URL.String(), got, resp.Status, want)
			}
		})
	}
}

// TestUpdateRendersSeverity checks that an update recolors the banner and
// invalidates cached snapshots.
func TestUpdateRendersSeverity(t *testing.T) {
	p := New(&Options{Width: 64, Height: 64})

	before, err := p.grabSnapshot(PNG)
	if err != nil {
		t.Fatal(err)
	}

	p.Update(ens160.Env{AQI: 5, ECO2: 1800, TVOC: 900})

	after, err := p.grabSnapshot(PNG)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(before, after) {
		t.Error("Update() did not invalidate the cached snapshot")
	}

	want := aqistrip.Color(5)
	got := p.buffer.RGBAAt(5, 5)
	if got != (color.RGBA{want.R, want.G, want.B, 0xFF}) {
		t.Errorf("banner pixel = %v, want %v", got, want)
	}
}
