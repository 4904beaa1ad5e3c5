package label

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Bitmap is a packed 1-bit image, rows top to bottom, most significant bit
// first. A set bit is white, matching palette index 1 of the encoded BMP.
type Bitmap struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewBitmap returns an all-white bitmap.
func NewBitmap(w, h int) *Bitmap {
	stride := (w + 7) / 8
	pix := bytes.Repeat([]byte{0xFF}, stride*h)
	return &Bitmap{Width: w, Height: h, Stride: stride, Pix: pix}
}

func (b *Bitmap) SetBlack(x, y int) {
	b.Pix[y*b.Stride+x/8] &^= 0x80 >> uint(x%8)
}

func (b *Bitmap) Black(x, y int) bool {
	return b.Pix[y*b.Stride+x/8]&(0x80>>uint(x%8)) == 0
}

// BlackCount returns the number of black pixels.
func (b *Bitmap) BlackCount() int {
	n := 0
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			if b.Black(x, y) {
				n++
			}
		}
	}
	return n
}

const (
	bmpFileHeaderLen = 14
	bmpInfoHeaderLen = 40
	bmpPaletteLen    = 8
	bmpPixelOffset   = bmpFileHeaderLen + bmpInfoHeaderLen + bmpPaletteLen
	bmpPixPerMeter   = 2835 // 72 dpi
)

func bmpRowSize(w int) int { return ((w + 31) / 32) * 4 }

// EncodeBMP writes b as an uncompressed bottom-up 1bpp BMP with a two entry
// palette (black, white).
func EncodeBMP(b *Bitmap) []byte {
	row := bmpRowSize(b.Width)
	imageSize := row * b.Height
	buf := make([]byte, bmpPixelOffset+imageSize)
	le := binary.LittleEndian

	buf[0], buf[1] = 'B', 'M'
	le.PutUint32(buf[2:], uint32(len(buf)))
	le.PutUint32(buf[10:], bmpPixelOffset)

	h := buf[bmpFileHeaderLen:]
	le.PutUint32(h[0:], bmpInfoHeaderLen)
	le.PutUint32(h[4:], uint32(int32(b.Width)))
	le.PutUint32(h[8:], uint32(int32(b.Height)))
	le.PutUint16(h[12:], 1) // planes
	le.PutUint16(h[14:], 1) // bits per pixel
	le.PutUint32(h[20:], uint32(imageSize))
	le.PutUint32(h[24:], bmpPixPerMeter)
	le.PutUint32(h[28:], bmpPixPerMeter)
	le.PutUint32(h[32:], 2)
	le.PutUint32(h[36:], 2)

	pal := buf[bmpFileHeaderLen+bmpInfoHeaderLen:]
	pal[4], pal[5], pal[6] = 0xFF, 0xFF, 0xFF // entry 1: white; entry 0 stays black

	pix := buf[bmpPixelOffset:]
	for y := 0; y < b.Height; y++ {
		dst := pix[(b.Height-1-y)*row:]
		copy(dst[:b.Stride], b.Pix[y*b.Stride:(y+1)*b.Stride])
	}
	return buf
}

// DecodeBMP parses the 1bpp BMP layout produced by EncodeBMP, including
// top-down files and inverted palettes.
func DecodeBMP(data []byte) (*Bitmap, error) {
	if len(data) < bmpPixelOffset || data[0] != 'B' || data[1] != 'M' {
		return nil, errors.New("not a BMP file")
	}
	le := binary.LittleEndian
	offset := int(le.Uint32(data[10:]))
	h := data[bmpFileHeaderLen:]
	if le.Uint32(h[0:]) < bmpInfoHeaderLen {
		return nil, errors.New("unsupported BMP header")
	}
	w := int(int32(le.Uint32(h[4:])))
	height := int(int32(le.Uint32(h[8:])))
	bpp := le.Uint16(h[14:])
	if bpp != 1 || le.Uint32(h[16:]) != 0 {
		return nil, fmt.Errorf("unsupported BMP encoding: %d bpp, compression %d", bpp, le.Uint32(h[16:]))
	}
	topDown := height < 0
	if topDown {
		height = -height
	}
	if w <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid BMP size %dx%d", w, height)
	}
	row := bmpRowSize(w)
	if offset < bmpPixelOffset || len(data) < offset+row*height {
		return nil, errors.New("truncated BMP")
	}
	// palette entry 0 brighter than entry 1 means set bits are black
	palStart := bmpFileHeaderLen + int(le.Uint32(h[0:]))
	if len(data) < palStart+bmpPaletteLen {
		return nil, errors.New("truncated BMP palette")
	}
	pal := data[palStart:]
	invert := int(pal[0])+int(pal[1])+int(pal[2]) > int(pal[4])+int(pal[5])+int(pal[6])

	out := NewBitmap(w, height)
	for y := 0; y < height; y++ {
		srcY := height - 1 - y
		if topDown {
			srcY = y
		}
		src := data[offset+srcY*row:]
		dst := out.Pix[y*out.Stride : (y+1)*out.Stride]
		copy(dst, src[:out.Stride])
		if invert {
			for i := range dst {
				dst[i] = ^dst[i]
			}
		}
	}
	return out, nil
}
