package stream

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"moodcam/internal/pipeline"
)

// Annotator draws boxes and labels into frames with a bitmap font
type Annotator struct {
	face font.Face
}

// NewAnnotator creates an annotator using the 7x13 basic font
func NewAnnotator() *Annotator {
	return &Annotator{face: basicfont.Face7x13}
}

// DrawBox draws a rectangle outline. The stroke grows inward from rect and is
// clipped to the frame.
func (a *Annotator) DrawBox(frame *pipeline.Frame, rect image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Canon()
	src := image.NewUniform(c)
	bounds := frame.Image.Bounds()

	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+thickness), // top
		image.Rect(rect.Min.X, rect.Max.Y-thickness, rect.Max.X, rect.Max.Y), // bottom
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+thickness, rect.Max.Y), // left
		image.Rect(rect.Max.X-thickness, rect.Min.Y, rect.Max.X, rect.Max.Y), // right
	}
	for _, e := range edges {
		e = e.Intersect(rect).Intersect(bounds)
		if e.Empty() {
			continue
		}
		draw.Draw(frame.Image, e, src, image.Point{}, draw.Src)
	}
}

// DrawText draws text with its baseline starting at pos
func (a *Annotator) DrawText(frame *pipeline.Frame, text string, pos image.Point, style pipeline.TextStyle) {
	if text == "" {
		return
	}

	d := &font.Drawer{
		Dst:  frame.Image,
		Src:  image.NewUniform(style.Color),
		Face: a.face,
		Dot:  fixed.P(pos.X, pos.Y),
	}

	if style.Background.A > 0 {
		b, _ := d.BoundString(text)
		bg := image.Rect(b.Min.X.Floor()-2, b.Min.Y.Floor()-2, b.Max.X.Ceil()+2, b.Max.Y.Ceil()+2)
		bg = bg.Intersect(frame.Image.Bounds())
		if !bg.Empty() {
			draw.Draw(frame.Image, bg, image.NewUniform(style.Background), image.Point{}, draw.Over)
		}
	}

	d.DrawString(text)
}

var _ pipeline.AnnotationSink = (*Annotator)(nil)
