package capture

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// HTTPDevice reads MJPEG streams served over HTTP, one URL per facing.
// Kiosk installations point these at the local camera daemon; leaving
// BackURL empty models a single-camera device.
type HTTPDevice struct {
	FrontURL string
	BackURL  string
	HTTP     *http.Client
}

// NewHTTPDevice creates a device over the given stream URLs.
func NewHTTPDevice(frontURL, backURL string) *HTTPDevice {
	// No client timeout: the response body is a long-lived stream.
	return &HTTPDevice{FrontURL: frontURL, BackURL: backURL, HTTP: &http.Client{}}
}

// CanFace reports whether a stream URL is configured for f.
func (d *HTTPDevice) CanFace(f Facing) bool {
	return d.streamURL(f) != ""
}

// Open connects to the MJPEG stream for the requested facing. The
// stream outlives the originating request, so cancellation of ctx
// after Open returns must not tear it down.
func (d *HTTPDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	endpoint := d.streamURL(c.Facing)
	if endpoint == "" {
		return nil, fmt.Errorf("no stream configured for %s camera", c.Facing)
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("not an mjpeg stream: content-type %q", resp.Header.Get("Content-Type"))
	}

	return &mjpegStream{
		resp:   resp,
		reader: multipart.NewReader(resp.Body, strings.TrimPrefix(params["boundary"], "--")),
	}, nil
}

func (d *HTTPDevice) streamURL(f Facing) string {
	if f == FacingBack {
		return d.BackURL
	}
	return d.FrontURL
}

type mjpegStream struct {
	resp   *http.Response
	reader *multipart.Reader
}

// Frame decodes the next JPEG part off the stream.
func (s *mjpegStream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	part, err := s.reader.NextPart()
	if err != nil {
		return nil, fmt.Errorf("read stream part: %w", err)
	}
	defer part.Close()
	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Close drops the HTTP connection, releasing the remote camera.
func (s *mjpegStream) Close() error {
	return s.resp.Body.Close()
}
