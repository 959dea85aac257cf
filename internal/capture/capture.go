// Package capture grabs single frames from a camera source and normalizes
// them to the JPEG frames the face classifier expects.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"os/exec"
	"strings"

	xdraw "golang.org/x/image/draw"
	xwebp "golang.org/x/image/webp"
)

// DefaultMaxDim is the default long side of a normalized frame.
const DefaultMaxDim = 640

const jpegQuality = 85

// Camera produces one image per call.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// FileCamera reads an image file on every capture, for snapshot files kept
// current by another tool.
type FileCamera struct {
	Path string
}

func (c FileCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read frame: %s is empty", c.Path)
	}
	return data, nil
}

// CommandCamera runs a command that writes one image to stdout, such as
// "fswebcam -q --no-banner -".
type CommandCamera struct {
	Name string
	Args []string
}

// ParseCommand splits a shell-style command line on whitespace.
func ParseCommand(line string) (CommandCamera, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandCamera{}, fmt.Errorf("empty camera command")
	}
	return CommandCamera{Name: fields[0], Args: fields[1:]}, nil
}

func (c CommandCamera) Capture(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("camera command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("camera command failed: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("camera command produced no image")
	}
	return stdout.Bytes(), nil
}

// Normalizing wraps a Camera and re-encodes its frames with NormalizeJPEG.
type Normalizing struct {
	Camera Camera
	MaxDim int
}

func (n Normalizing) Capture(ctx context.Context) ([]byte, error) {
	data, err := n.Camera.Capture(ctx)
	if err != nil {
		return nil, err
	}
	return NormalizeJPEG(data, n.MaxDim)
}

// NormalizeJPEG decodes a JPEG, PNG, GIF or WebP image, scales it down so
// its long side is at most maxDim, and encodes it as JPEG.
func NormalizeJPEG(data []byte, maxDim int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		img, err = xwebp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image bounds: %dx%d", w, h)
	}

	maxSide := w
	if h > maxSide {
		maxSide = h
	}
	if maxDim > 0 && maxSide > maxDim {
		scale := float64(maxDim) / float64(maxSide)
		nw := int(math.Round(float64(w) * scale))
		nh := int(math.Round(float64(h) * scale))
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}

		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
