package imageconv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
)

const (
	icoHeaderSize = 6
	icoEntrySize  = 16
)

type icoHeader struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

type icoEntry struct {
	Width       uint8
	Height      uint8
	Colors      uint8
	Reserved    uint8
	Planes      uint16
	BitCount    uint16
	BytesInRes  uint32
	ImageOffset uint32
}

// EncodeICO writes img as a single-entry icon with an embedded PNG payload.
// Images larger than MaxIconSize on either edge are rejected.
func EncodeICO(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() > MaxIconSize || bounds.Dy() > MaxIconSize {
		return fmt.Errorf("icon too large: %dx%d", bounds.Dx(), bounds.Dy())
	}

	var payload bytes.Buffer
	if err := png.Encode(&payload, img); err != nil {
		return fmt.Errorf("failed to encode icon payload: %w", err)
	}

	header := icoHeader{Type: 1, Count: 1}
	entry := icoEntry{
		Width:       icoDimension(bounds.Dx()),
		Height:      icoDimension(bounds.Dy()),
		Planes:      1,
		BitCount:    32,
		BytesInRes:  uint32(payload.Len()),
		ImageOffset: icoHeaderSize + icoEntrySize,
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// 256 is stored as 0
func icoDimension(n int) uint8 {
	if n >= MaxIconSize {
		return 0
	}
	return uint8(n)
}
