package okcolor

import (
	"image/color"
	"math"
)

// LinearRGBA holds linear light channels in [0, 1] and a straight alpha.
type LinearRGBA struct {
	R float64
	G float64
	B float64
	A uint16
}

var LinearRGBAModel = color.ModelFunc(linearRGBAConvert)

func linearRGBAConvert(c color.Color) color.Color {
	if _, ok := c.(LinearRGBA); ok {
		return c
	}

	return sRGBToLinearRGB(color.NRGBA64Model.Convert(c).(color.NRGBA64))
}

func (lc LinearRGBA) RGBA() (uint32, uint32, uint32, uint32) {
	return color.NRGBA64{
		R: uint16(fromLinear(clamp(lc.R, 0, 1))*65535 + 0.5),
		G: uint16(fromLinear(clamp(lc.G, 0, 1))*65535 + 0.5),
		B: uint16(fromLinear(clamp(lc.B, 0, 1))*65535 + 0.5),
		A: lc.A,
	}.RGBA()
}

func sRGBToLinearRGB(c color.NRGBA64) LinearRGBA {
	return LinearRGBA{
		R: toLinear(float64(c.R) / 65535),
		G: toLinear(float64(c.G) / 65535),
		B: toLinear(float64(c.B) / 65535),
		A: c.A,
	}
}

// linear8 maps an 8-bit sRGB channel to linear light.
var linear8 = func() (t [256]float64) {
	for i := range t {
		t[i] = toLinear(float64(i) / 255)
	}
	return t
}()

// FromNRGBA8 converts a non-premultiplied 8-bit colour without going through
// color.Color.
func FromNRGBA8(r, g, b, a uint8) LinearRGBA {
	return LinearRGBA{
		R: linear8[r],
		G: linear8[g],
		B: linear8[b],
		A: uint16(a) * 0x101,
	}
}

func toLinear(x float64) float64 {
	if x >= 0.04045 {
		return math.Pow((x+0.055)/1.055, 2.4)
	}
	return x / 12.92
}

const pow float64 = 1.0 / 2.4

func fromLinear(x float64) float64 {
	if x >= 0.0031308 {
		return math.Pow(x, pow)*1.055 - 0.055
	}
	return x * 12.92
}

func clamp(x, lo, hi float64) float64 {
	return min(hi, max(lo, x))
}
