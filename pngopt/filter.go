package pngopt

import "fmt"

const (
	ftNone uint8 = iota
	ftSub
	ftUp
	ftAverage
	ftPaeth
)

// filterFunc turns unfiltered rows into a filtered stream, one filter type
// byte in front of every row.
type filterFunc func(raw []byte, stride, bpp int) []byte

func unfilter(filtered []byte, stride, bpp int) ([]byte, error) {
	rows := len(filtered) / (stride + 1)
	raw := make([]byte, rows*stride)
	prev := make([]byte, stride)

	for y := range rows {
		in := filtered[y*(stride+1) : (y+1)*(stride+1)]
		ft, cur := in[0], raw[y*stride:(y+1)*stride]
		copy(cur, in[1:])

		switch ft {
		case ftNone:
		case ftSub:
			for i := bpp; i < stride; i++ {
				cur[i] += cur[i-bpp]
			}
		case ftUp:
			for i := range cur {
				cur[i] += prev[i]
			}
		case ftAverage:
			for i := range cur {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += uint8((int(left) + int(prev[i])) / 2)
			}
		case ftPaeth:
			for i := range cur {
				var left, upLeft byte
				if i >= bpp {
					left, upLeft = cur[i-bpp], prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("%w: filter type %d in row %d", ErrFormat, ft, y)
		}
		prev = cur
	}
	return raw, nil
}

// filterRow writes row cur filtered with ft against prev into out.
func filterRow(out, cur, prev []byte, ft uint8, bpp int) {
	switch ft {
	case ftNone:
		copy(out, cur)
	case ftSub:
		for i := range cur {
			var left byte
			if i >= bpp {
				left = cur[i-bpp]
			}
			out[i] = cur[i] - left
		}
	case ftUp:
		for i := range cur {
			out[i] = cur[i] - prev[i]
		}
	case ftAverage:
		for i := range cur {
			var left byte
			if i >= bpp {
				left = cur[i-bpp]
			}
			out[i] = cur[i] - uint8((int(left)+int(prev[i]))/2)
		}
	case ftPaeth:
		for i := range cur {
			var left, upLeft byte
			if i >= bpp {
				left, upLeft = cur[i-bpp], prev[i-bpp]
			}
			out[i] = cur[i] - paeth(left, prev[i], upLeft)
		}
	}
}

func fixedFilter(ft uint8) filterFunc {
	return func(raw []byte, stride, bpp int) []byte {
		rows := len(raw) / stride
		out := make([]byte, rows*(stride+1))
		prev := make([]byte, stride)
		for y := range rows {
			o := out[y*(stride+1) : (y+1)*(stride+1)]
			cur := raw[y*stride : (y+1)*stride]
			o[0] = ft
			filterRow(o[1:], cur, prev, ft, bpp)
			prev = cur
		}
		return out
	}
}

// adaptiveFilter picks, per row, the filter with the smallest sum of
// absolute values when the output bytes are read as signed.
func adaptiveFilter(raw []byte, stride, bpp int) []byte {
	rows := len(raw) / stride
	out := make([]byte, rows*(stride+1))
	prev := make([]byte, stride)
	scratch := make([]byte, stride)

	for y := range rows {
		o := out[y*(stride+1) : (y+1)*(stride+1)]
		cur := raw[y*stride : (y+1)*stride]

		bestSum := -1
		for ft := ftNone; ft <= ftPaeth; ft++ {
			filterRow(scratch, cur, prev, ft, bpp)
			sum := 0
			for _, b := range scratch {
				sum += abs(int(int8(b)))
				if bestSum >= 0 && sum >= bestSum {
					break
				}
			}
			if bestSum < 0 || sum < bestSum {
				bestSum = sum
				o[0] = ft
				copy(o[1:], scratch)
			}
		}
		prev = cur
	}
	return out
}

func paeth(a, b, c uint8) uint8 {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
