// Package yuv converts packed RGBA pixels to planar YUV 4:2:0.
package yuv

// BT.601 studio-swing coefficients, fixed point 8 bits.

func rgbToY(r, g, b int) uint8 {
	return uint8((66*r+129*g+25*b+128)>>8 + 16)
}

func rgbToU(r, g, b int) uint8 {
	return uint8((-38*r-74*g+112*b+128)>>8 + 128)
}

func rgbToV(r, g, b int) uint8 {
	return uint8((112*r-94*g-18*b+128)>>8 + 128)
}

// ABGRToI420 converts a packed buffer of R,G,B,A bytes into planar
// I420: full-resolution Y, half-width half-height U and V. The chroma
// of each 2x2 block is averaged. Width and height must be even.
func ABGRToI420(
	src []byte, srcStride int,
	y []byte, yStride int,
	u []byte, uStride int,
	v []byte, vStride int,
	width, height int,
) {
	for row := 0; row < height; row++ {
		sp := row * srcStride
		yp := row * yStride
		for col := 0; col < width; col++ {
			r := int(src[sp])
			g := int(src[sp+1])
			b := int(src[sp+2])
			y[yp+col] = rgbToY(r, g, b)
			sp += 4
		}
	}

	for row := 0; row < height; row += 2 {
		up := (row / 2) * uStride
		vp := (row / 2) * vStride
		for col := 0; col < width; col += 2 {
			var r, g, b int
			for _, off := range [4]int{
				row*srcStride + col*4,
				row*srcStride + (col+1)*4,
				(row+1)*srcStride + col*4,
				(row+1)*srcStride + (col+1)*4,
			} {
				r += int(src[off])
				g += int(src[off+1])
				b += int(src[off+2])
			}
			r >>= 2
			g >>= 2
			b >>= 2

			u[up+col/2] = rgbToU(r, g, b)
			v[vp+col/2] = rgbToV(r, g, b)
		}
	}
}
