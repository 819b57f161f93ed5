package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"dqx0.com/go/webd/webserver"
)

const (
	maxDimension = 8192
	// maxSourcePixels bounds the images decoded for a transformation.
	maxSourcePixels = 50_000_000
)

var errBadDimension = errors.New("handlers: invalid image dimension")

// Transformer produces a width x height rendition of src.
type Transformer interface {
	Transform(src image.Image, width, height int) (image.Image, error)
}

// ScaleTransformer resizes with an x/image/draw interpolator,
// draw.NearestNeighbor when Interpolator is nil.
type ScaleTransformer struct {
	Interpolator draw.Interpolator
}

func (t ScaleTransformer) Transform(src image.Image, width, height int) (image.Image, error) {
	ip := t.Interpolator
	if ip == nil {
		ip = draw.NearestNeighbor
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	ip.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// ImageTransformationHandler serves scaled renditions of the images below
// /image/ when a width or height argument is present. A missing dimension
// keeps the aspect ratio. The result is encoded in the source format; WebP
// sources are answered as PNG.
type ImageTransformationHandler struct {
	webserver.BaseHandler
	roots       []string
	transformer Transformer

	path    string
	modTime time.Time
	found   bool
}

func NewImageTransformationHandler(t Transformer, roots ...string) *ImageTransformationHandler {
	if t == nil {
		t = ScaleTransformer{}
	}
	return &ImageTransformationHandler{roots: cleanRoots(roots), transformer: t}
}

func (h *ImageTransformationHandler) CanHandleRequest(req *webserver.Request) bool {
	if !isRead(req) || !strings.HasPrefix(req.FullPath, imagePrefix) {
		return false
	}
	args := req.Arguments()
	return args.Has("width") || args.Has("height")
}

func (h *ImageTransformationHandler) Create(req *webserver.Request) webserver.RequestHandler {
	c := &ImageTransformationHandler{
		BaseHandler: webserver.NewBaseHandler(req),
		roots:       h.roots,
		transformer: h.transformer,
	}
	if p, ok := resolveIn(h.roots, strings.TrimPrefix(req.FullPath, imagePrefix)); ok {
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			c.path, c.modTime, c.found = p, fi.ModTime(), true
		}
	}
	return c
}

func (h *ImageTransformationHandler) Priority() int { return 3 }

func (h *ImageTransformationHandler) CanHandleRanges() bool { return true }

func (h *ImageTransformationHandler) CanBeCached() bool { return h.found }

func (h *ImageTransformationHandler) MaxAge() int { return oneYear }

func (h *ImageTransformationHandler) LastModified() (time.Time, bool) {
	return h.modTime, h.found
}

func (h *ImageTransformationHandler) HandleRequest() error {
	if !h.found {
		h.SetError(404)
		return nil
	}
	args := h.Request().Arguments()
	width, err := dimension(args.Get("width"))
	if err != nil {
		h.SetError(400)
		return nil
	}
	height, err := dimension(args.Get("height"))
	if err != nil {
		h.SetError(400)
		return nil
	}

	f, err := os.Open(h.path)
	if err != nil {
		return err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		h.SetError(415)
		return nil
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		h.SetError(413)
		return nil
	}
	width, height = fitSize(cfg.Width, cfg.Height, width, height)
	if width > maxDimension || height > maxDimension {
		h.SetError(400)
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	src, format, err := image.Decode(f)
	if err != nil || src.Bounds().Empty() {
		h.SetError(415)
		return nil
	}
	out, err := h.transformer.Transform(src, width, height)
	if err != nil {
		return fmt.Errorf("transform %s: %w", h.path, err)
	}

	var buf bytes.Buffer
	contentType, err := encodeImage(&buf, out, format)
	if err != nil {
		return fmt.Errorf("encode %s: %w", h.path, err)
	}
	h.SetMemoryResponse(contentType, buf.Bytes())
	return nil
}

// dimension parses a width or height argument; "" is 0.
func dimension(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxDimension {
		return 0, errBadDimension
	}
	return n, nil
}

// fitSize fills a zero dimension from the source aspect ratio. The derived
// dimension is not bounded; callers check it against maxDimension.
func fitSize(srcW, srcH, w, h int) (int, int) {
	switch {
	case w == 0 && h == 0:
		return srcW, srcH
	case w == 0:
		w = int(max(1, (int64(srcW)*int64(h)+int64(srcH)/2)/int64(srcH)))
	case h == 0:
		h = int(max(1, (int64(srcH)*int64(w)+int64(srcW)/2)/int64(srcW)))
	}
	return w, h
}

func encodeImage(buf *bytes.Buffer, img image.Image, format string) (string, error) {
	switch format {
	case "jpeg":
		return "image/jpeg", jpeg.Encode(buf, img, &jpeg.Options{Quality: 90})
	case "gif":
		return "image/gif", gif.Encode(buf, img, nil)
	case "bmp":
		return "image/bmp", bmp.Encode(buf, img)
	default:
		return "image/png", png.Encode(buf, img)
	}
}
