package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// Byte offsets inside the fixed-size header written by aviWriter.
const (
	aviHeaderSize = 224
	moviFourCCAt  = 220

	aviKeyFrame  = 0x10
	aviHasIndex  = 0x10
	bitmapHeader = 40

	// RIFF sizes and idx1 offsets are 32-bit.
	aviMaxBytes = math.MaxUint32
)

var (
	errVideoClosed = errors.New("video file closed")
	errVideoFull   = errors.New("video file size limit reached")
)

type aviIndexEntry struct {
	offset uint32
	size   uint32
}

// aviWriter writes a single-stream Motion JPEG AVI. Frames are appended as
// they arrive; the index and the final header are written on Close.
type aviWriter struct {
	f        *os.File
	path     string
	width    int
	height   int
	fps      int
	moviSize int64
	maxFrame int
	index    []aviIndexEntry
	closed   bool
}

func createAVI(path string, width, height, fps int) (*aviWriter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if fps <= 0 {
		fps = 20
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	a := &aviWriter{f: f, path: path, width: width, height: height, fps: fps}
	if _, err := f.Write(a.header()); err != nil {
		f.Close()
		return nil, fmt.Errorf("write avi header: %w", err)
	}
	return a, nil
}

func (a *aviWriter) Path() string { return a.path }
func (a *aviWriter) Frames() int  { return len(a.index) }

// Matches reports whether a frame of the given size fits this stream.
func (a *aviWriter) Matches(width, height int) bool {
	return a.width == width && a.height == height
}

// Fits reports whether a frame of n bytes can be appended without the
// finalized file growing past limit bytes.
func (a *aviWriter) Fits(n int, limit int64) bool {
	if limit <= 0 || limit > aviMaxBytes {
		limit = aviMaxBytes
	}
	return a.sizeAfter(n) <= limit
}

// sizeAfter is the finalized file size once a frame of n bytes is added.
func (a *aviWriter) sizeAfter(n int) int64 {
	chunk := int64(8 + n + n%2)
	index := 8 + 16*int64(len(a.index)+1)
	return int64(aviHeaderSize) + a.moviSize + chunk + index
}

// WriteFrame appends one JPEG image as a "00dc" chunk.
func (a *aviWriter) WriteFrame(jpeg []byte) error {
	if a.closed {
		return errVideoClosed
	}
	size := len(jpeg)
	if a.sizeAfter(size) > aviMaxBytes {
		return errVideoFull
	}
	chunk := make([]byte, 0, 8+size+1)
	chunk = append(chunk, "00dc"...)
	chunk = binary.LittleEndian.AppendUint32(chunk, uint32(size))
	chunk = append(chunk, jpeg...)
	if size%2 == 1 {
		chunk = append(chunk, 0)
	}
	if _, err := a.f.Write(chunk); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	// offsets are relative to the "movi" fourcc
	a.index = append(a.index, aviIndexEntry{offset: uint32(4 + a.moviSize), size: uint32(size)})
	a.moviSize += int64(len(chunk))
	if size > a.maxFrame {
		a.maxFrame = size
	}
	return nil
}

// Close writes the index, patches the header with the final counts and
// closes the file. It is safe to call more than once.
func (a *aviWriter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	idx := make([]byte, 0, 8+16*len(a.index))
	idx = append(idx, "idx1"...)
	idx = binary.LittleEndian.AppendUint32(idx, uint32(16*len(a.index)))
	for _, e := range a.index {
		idx = append(idx, "00dc"...)
		idx = binary.LittleEndian.AppendUint32(idx, aviKeyFrame)
		idx = binary.LittleEndian.AppendUint32(idx, e.offset)
		idx = binary.LittleEndian.AppendUint32(idx, e.size)
	}
	_, werr := a.f.Write(idx)
	if werr == nil {
		_, werr = a.f.WriteAt(a.header(), 0)
	}
	cerr := a.f.Close()
	return errors.Join(werr, cerr)
}

func (a *aviWriter) fileSize() int64 {
	size := int64(aviHeaderSize) + a.moviSize
	if a.closed {
		size += 8 + 16*int64(len(a.index))
	}
	return size
}

// header builds the RIFF, hdrl and movi list headers for the current state.
func (a *aviWriter) header() []byte {
	le := binary.LittleEndian
	frames := uint32(len(a.index))
	usPerFrame := uint32(1_000_000 / a.fps)
	buffer := uint32(a.maxFrame + 8)
	bytesPerSec := buffer * uint32(a.fps)

	b := make([]byte, 0, aviHeaderSize)
	b = append(b, "RIFF"...)
	b = le.AppendUint32(b, uint32(a.fileSize()-8))
	b = append(b, "AVI "...)

	b = append(b, "LIST"...)
	b = le.AppendUint32(b, 192)
	b = append(b, "hdrl"...)

	b = append(b, "avih"...)
	b = le.AppendUint32(b, 56)
	b = le.AppendUint32(b, usPerFrame)
	b = le.AppendUint32(b, bytesPerSec)
	b = le.AppendUint32(b, 0) // padding granularity
	b = le.AppendUint32(b, aviHasIndex)
	b = le.AppendUint32(b, frames)
	b = le.AppendUint32(b, 0) // initial frames
	b = le.AppendUint32(b, 1) // streams
	b = le.AppendUint32(b, buffer)
	b = le.AppendUint32(b, uint32(a.width))
	b = le.AppendUint32(b, uint32(a.height))
	b = append(b, make([]byte, 16)...)

	b = append(b, "LIST"...)
	b = le.AppendUint32(b, 116)
	b = append(b, "strl"...)

	b = append(b, "strh"...)
	b = le.AppendUint32(b, 56)
	b = append(b, "vids"...)
	b = append(b, "MJPG"...)
	b = le.AppendUint32(b, 0) // flags
	b = le.AppendUint16(b, 0) // priority
	b = le.AppendUint16(b, 0) // language
	b = le.AppendUint32(b, 0) // initial frames
	b = le.AppendUint32(b, 1) // scale
	b = le.AppendUint32(b, uint32(a.fps))
	b = le.AppendUint32(b, 0) // start
	b = le.AppendUint32(b, frames)
	b = le.AppendUint32(b, buffer)
	b = le.AppendUint32(b, 0xFFFFFFFF) // default quality
	b = le.AppendUint32(b, 0)          // sample size
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, uint16(a.width))
	b = le.AppendUint16(b, uint16(a.height))

	b = append(b, "strf"...)
	b = le.AppendUint32(b, bitmapHeader)
	b = le.AppendUint32(b, bitmapHeader)
	b = le.AppendUint32(b, uint32(a.width))
	b = le.AppendUint32(b, uint32(a.height))
	b = le.AppendUint16(b, 1)  // planes
	b = le.AppendUint16(b, 24) // bit count
	b = append(b, "MJPG"...)
	b = le.AppendUint32(b, uint32(a.width*a.height*3))
	b = append(b, make([]byte, 16)...)

	b = append(b, "LIST"...)
	b = le.AppendUint32(b, uint32(4+a.moviSize))
	b = append(b, "movi"...)
	return b
}
