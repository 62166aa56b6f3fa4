package stubapp

import (
	"bytes"
	"crypto/sha3"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	posterWidth  = 200
	posterHeight = 300
	posterPad    = 10
)

// RenderPoster draws a poster for a title: a background color derived from
// the title, a darker band, and the title and year in the band.
func RenderPoster(t Title) ([]byte, error) {
	sum := sha3.Sum256([]byte(t.Title))
	bg := color.RGBA{R: 64 + sum[0]%160, G: 64 + sum[1]%160, B: 64 + sum[2]%160, A: 255}
	band := color.RGBA{R: bg.R / 3, G: bg.G / 3, B: bg.B / 3, A: 255}

	img := image.NewRGBA(image.Rect(0, 0, posterWidth, posterHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	lines := wrapText(t.Title, (posterWidth-2*posterPad)/basicfont.Face7x13.Advance)
	if t.Year > 0 {
		lines = append(lines, strconv.Itoa(t.Year))
	}
	lineHeight := basicfont.Face7x13.Metrics().Height.Ceil()
	bandTop := posterHeight - posterPad*2 - lineHeight*len(lines)
	draw.Draw(img, image.Rect(0, bandTop, posterWidth, posterHeight), image.NewUniform(band), image.Point{}, draw.Src)

	drawer := font.Drawer{Dst: img, Src: image.NewUniform(color.White), Face: basicfont.Face7x13}
	for i, line := range lines {
		drawer.Dot = fixed.Point26_6{
			X: fixed.I(posterPad),
			Y: fixed.I(bandTop + posterPad + basicfont.Face7x13.Metrics().Ascent.Ceil() + i*lineHeight),
		}
		drawer.DrawString(line)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderCallToAction draws the placeholder image shown on unsearched libraries.
func RenderCallToAction() ([]byte, error) {
	return RenderPoster(Title{Title: "Search this library to find your movies"})
}

// wrapText splits s into lines of at most width runes, breaking on spaces.
func wrapText(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var (
		lines   []string
		current string
	)
	for _, word := range strings.Fields(s) {
		for len([]rune(word)) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			r := []rune(word)
			lines = append(lines, string(r[:width]))
			word = string(r[width:])
		}
		switch {
		case current == "":
			current = word
		case len([]rune(current))+1+len([]rune(word)) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
