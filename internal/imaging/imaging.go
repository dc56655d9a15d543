package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"stylist/internal/fault"
)

// MaxBytes caps accepted image payloads at 10 MB of decoded data.
const MaxBytes = 10 * 1024 * 1024

// DefaultMaxDimension bounds the longest edge after optimization.
const DefaultMaxDimension = 1024

// Asset is a validated image. Ownership transfers to the caller once
// returned; nothing in this package retains the byte slice.
type Asset struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// SizeBytes reports the decoded payload size.
func (a *Asset) SizeBytes() int {
	return len(a.Data)
}

// forbiddenPrefixes are payload prefixes that indicate a local-file or
// protocol reference masquerading as image data. They are rejected before
// any decoding or upstream call happens.
var forbiddenPrefixes = []string{
	"file://",
	"ftp://",
	"gopher://",
	"dict://",
	"//",
	"../",
	"..\\",
	"/etc/",
	"\\\\",
}

// Decode validates a data-URL image payload and returns the decoded asset.
// Anything that is not a recognized image encoding (png, jpeg, webp), that
// exceeds MaxBytes, or that carries a path- or protocol-like prefix fails
// with an InvalidInput kind.
func Decode(dataURL string) (*Asset, error) {
	payload := strings.TrimSpace(dataURL)
	if payload == "" {
		return nil, fault.New(fault.KindInvalidInput, "no image provided")
	}
	lower := strings.ToLower(payload)
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(lower, prefix) || strings.Contains(lower, "file://") {
			return nil, fault.New(fault.KindInvalidInput, "image payload carries a disallowed path or protocol reference")
		}
	}
	if !strings.HasPrefix(lower, "data:image/") {
		return nil, fault.New(fault.KindInvalidInput, "image must be a data:image/...;base64 URL")
	}
	comma := strings.Index(payload, ",")
	if comma < 0 {
		return nil, fault.New(fault.KindInvalidInput, "malformed data URL: missing payload")
	}
	// Base64 inflates by ~4/3, so this bound rejects oversized payloads
	// before decoding them.
	if len(payload)-comma-1 > MaxBytes*4/3+4 {
		return nil, fault.New(fault.KindInvalidInput, "image exceeds the 10 MB size limit")
	}
	encoded := payload[comma+1:]
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidInput, "image payload is not valid base64", err)
		}
	}
	return FromBytes(raw)
}

// FromBytes validates raw image bytes.
func FromBytes(raw []byte) (*Asset, error) {
	if len(raw) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "empty image payload")
	}
	if len(raw) > MaxBytes {
		return nil, fault.New(fault.KindInvalidInput, "image exceeds the 10 MB size limit")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "unrecognized image encoding", err)
	}
	return &Asset{
		Data:   raw,
		MIME:   "image/" + format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// Optimize downsamples the asset so its longest edge is at most maxDim,
// preserving aspect ratio, and re-encodes as PNG. The scaling kernel and
// encoder are deterministic: identical input bytes and target dimension
// always produce byte-identical output, which keeps the result safe for
// content-addressed caching. Assets already within bounds are re-encoded
// too so every optimized asset has a uniform format.
func Optimize(asset *Asset, maxDim int) (*Asset, error) {
	if asset == nil || len(asset.Data) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "no image to optimize")
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	src, _, err := image.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "decode image for optimization", err)
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxDim || height > maxDim {
		width, height = fitWithin(width, height, maxDim)
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fault.Wrap(fault.KindUnknown, "encode optimized image", err)
	}
	return &Asset{
		Data:   buf.Bytes(),
		MIME:   "image/png",
		Width:  width,
		Height: height,
	}, nil
}

// fitWithin scales (w, h) down so the longest edge equals maxDim.
func fitWithin(w, h, maxDim int) (int, int) {
	if w >= h {
		scaled := h * maxDim / w
		if scaled < 1 {
			scaled = 1
		}
		return maxDim, scaled
	}
	scaled := w * maxDim / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxDim
}

// EncodeDataURL renders the asset as a data URL for transport back to the
// caller.
func EncodeDataURL(asset *Asset) string {
	if asset == nil || len(asset.Data) == 0 {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", asset.MIME, base64.StdEncoding.EncodeToString(asset.Data))
}

// WriteTemp writes the asset to a temporary file and returns its path with
// a cleanup func. The file is owned exclusively by the calling workflow;
// callers must defer cleanup so the file is released on every exit path.
func WriteTemp(asset *Asset) (string, func(), error) {
	if asset == nil || len(asset.Data) == 0 {
		return "", nil, fault.New(fault.KindInvalidInput, "no image data to write")
	}
	f, err := os.CreateTemp("", "outfit-*"+extensionForMIME(asset.MIME))
	if err != nil {
		return "", nil, fmt.Errorf("imaging: create temp file: %w", err)
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := f.Write(asset.Data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("imaging: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("imaging: close temp file: %w", err)
	}
	return name, cleanup, nil
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
