package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"chronocards/internal/domain"
	"chronocards/internal/feedback"
)

// TimelineRenderer draws the current timeline as a horizontal PNG strip,
// oldest card on the left.
type TimelineRenderer interface {
	RenderPNG(ctx context.Context, roomCode string, entries []*domain.TimelineEntry) ([]byte, error)
}

type stripRenderer struct{}

func NewTimelineRenderer() TimelineRenderer {
	return &stripRenderer{}
}

var (
	backgroundColor = color.NRGBA{R: 24, G: 27, B: 38, A: 255}
	cardFillColor   = color.NRGBA{R: 38, G: 42, B: 58, A: 255}
	cardBorderColor = color.NRGBA{R: 70, G: 78, B: 104, A: 255}
	axisColor       = color.NRGBA{R: 110, G: 120, B: 150, A: 255}
	titleTextColor  = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	nameTextColor   = color.NRGBA{R: 220, G: 224, B: 240, A: 255}
	yearTextColor   = color.NRGBA{R: 140, G: 196, B: 255, A: 255}
)

func (r *stripRenderer) RenderPNG(ctx context.Context, roomCode string, entries []*domain.TimelineEntry) ([]byte, error) {
	const (
		cardWidth  = 150
		cardHeight = 168
		cardGap    = 18
		iconSize   = 48
		sideMargin = 32
		topMargin  = 56
		axisHeight = 56
	)

	cols := len(entries)
	if cols == 0 {
		cols = 1
	}
	totalWidth := sideMargin*2 + cols*cardWidth + (cols-1)*cardGap
	totalHeight := topMargin + cardHeight + axisHeight

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}

	title := fmt.Sprintf("Room %s", strings.ToUpper(strings.TrimSpace(roomCode)))
	drawText(drawer, title, sideMargin, 30, titleTextColor)

	axisY := topMargin + cardHeight + axisHeight/2
	drawAxis(img, sideMargin/2, totalWidth-sideMargin/2, axisY)

	if len(entries) == 0 {
		drawText(drawer, "no cards placed yet", sideMargin, topMargin+cardHeight/2, nameTextColor)
	}

	for i, e := range entries {
		x := sideMargin + i*(cardWidth+cardGap)
		if err := drawCard(img, drawer, e, x, topMargin, cardWidth, cardHeight, iconSize); err != nil {
			return nil, err
		}
		// tick from the card down to the axis
		cx := x + cardWidth/2
		fillRect(img, cx-1, topMargin+cardHeight, cx+1, axisY, axisColor)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawCard(img *image.RGBA, drawer *font.Drawer, e *domain.TimelineEntry, x, y, w, h, iconSize int) error {
	fillRect(img, x, y, x+w, y+h, cardBorderColor)
	fillRect(img, x+2, y+2, x+w-2, y+h-2, cardFillColor)

	name := "unknown card"
	yearText := "?"
	category := ""
	if e.Card != nil {
		name = e.Card.Name
		yearText = feedback.When(e.Card.Value)
		category = e.Card.Category
	}

	icon, err := renderIconImage(category, iconSize)
	if err != nil {
		return err
	}
	iconX := x + (w-iconSize)/2
	iconY := y + 16
	imagedraw.Draw(img, image.Rect(iconX, iconY, iconX+iconSize, iconY+iconSize), icon, image.Point{}, imagedraw.Over)

	nameY := iconY + iconSize + 28
	for _, line := range wrapText(drawer, name, w-16) {
		lineW := drawer.MeasureString(line).Round()
		drawText(drawer, line, x+(w-lineW)/2, nameY, nameTextColor)
		nameY += 16
	}

	yearW := drawer.MeasureString(yearText).Round()
	drawText(drawer, yearText, x+(w-yearW)/2, y+h-14, yearTextColor)
	return nil
}

func drawAxis(img *image.RGBA, x0, x1, y int) {
	fillRect(img, x0, y-1, x1, y+1, axisColor)
	// arrow head pointing toward the present
	for i := 0; i < 8; i++ {
		fillRect(img, x1-i-1, y-(8-i), x1-i, y+(8-i), axisColor)
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, clr color.Color) {
	imagedraw.Draw(img, image.Rect(x0, y0, x1, y1), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawText(drawer *font.Drawer, s string, x, y int, clr color.Color) {
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(s)
}

// wrapText greedily wraps on spaces and keeps at most two lines, eliding
// the second with ".." when the name still does not fit.
func wrapText(drawer *font.Drawer, s string, maxWidth int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	cur := words[0]
	for _, word := range words[1:] {
		candidate := cur + " " + word
		if drawer.MeasureString(candidate).Round() > maxWidth {
			lines = append(lines, cur)
			cur = word
			continue
		}
		cur = candidate
	}
	lines = append(lines, cur)

	if len(lines) > 2 {
		lines = lines[:2]
		lines[1] += ".."
	}
	for i, line := range lines {
		for drawer.MeasureString(line).Round() > maxWidth && len(line) > 2 {
			line = strings.TrimSuffix(line, "..")
			line = line[:len(line)-1] + ".."
			lines[i] = line
		}
	}
	return lines
}
