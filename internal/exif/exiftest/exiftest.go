// Package exiftest synthesizes JPEG payloads carrying a hand-built EXIF
// block, for exercising tag extraction without shipping camera fixtures.
package exiftest

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"sort"
	"testing"
)

// Rat is an unsigned EXIF rational.
type Rat struct {
	Num, Den uint32
}

// Tags describes the EXIF block to synthesize. Zero-value fields are left
// out of the block entirely, so absent-tag behavior is testable too.
type Tags struct {
	Make             string
	Model            string
	Lens             string
	DateTime         string // "2006:01:02 15:04:05" form
	DateTimeOriginal string
	ExposureTime     Rat
	FNumber          Rat
	FocalLength      Rat
	ISO              uint16

	LatRef, LonRef string // "N"/"S", "E"/"W"; GPS omitted unless both set
	Lat, Lon       [3]Rat // degrees, minutes, seconds
	Altitude       Rat
	BelowSeaLevel  bool
}

// TIFF field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

// IFD0 and sub-IFD tag numbers.
const (
	tagMake             = 0x010F
	tagModel            = 0x0110
	tagDateTime         = 0x0132
	tagExifIFD          = 0x8769
	tagGPSIFD           = 0x8825
	tagExposureTime     = 0x829A
	tagFNumber          = 0x829D
	tagISO              = 0x8827
	tagDateTimeOriginal = 0x9003
	tagFocalLength      = 0x920A
	tagLensModel        = 0xA434
	tagGPSLatRef        = 0x0001
	tagGPSLat           = 0x0002
	tagGPSLonRef        = 0x0003
	tagGPSLon           = 0x0004
	tagGPSAltRef        = 0x0005
	tagGPSAlt           = 0x0006
)

var le = binary.LittleEndian

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiEntry(tag uint16, s string) entry {
	return entry{tag: tag, typ: typeASCII, count: uint32(len(s) + 1), data: append([]byte(s), 0)}
}

func shortEntry(tag uint16, v uint16) entry {
	return entry{tag: tag, typ: typeShort, count: 1, data: le.AppendUint16(nil, v)}
}

func byteEntry(tag uint16, v byte) entry {
	return entry{tag: tag, typ: typeByte, count: 1, data: []byte{v}}
}

func longEntry(tag uint16, v uint32) entry {
	return entry{tag: tag, typ: typeLong, count: 1, data: le.AppendUint32(nil, v)}
}

func ratEntry(tag uint16, rats ...Rat) entry {
	var data []byte
	for _, r := range rats {
		data = le.AppendUint32(data, r.Num)
		data = le.AppendUint32(data, r.Den)
	}
	return entry{tag: tag, typ: typeRational, count: uint32(len(rats)), data: data}
}

// ifdSize is the encoded length of one IFD: count word, 12-byte entries,
// next-IFD offset, plus the out-of-line values that do not fit in 4 bytes.
func ifdSize(entries []entry) int {
	size := 2 + 12*len(entries) + 4
	for _, e := range entries {
		if len(e.data) > 4 {
			size += len(e.data)
		}
	}
	return size
}

// encodeIFD lays out one IFD starting at the given absolute TIFF offset.
// Values longer than 4 bytes land right after the entry table.
func encodeIFD(start uint32, entries []entry) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	dataOff := start + uint32(2+12*len(entries)+4)
	var head, tail bytes.Buffer
	_ = binary.Write(&head, le, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&head, le, e.tag)
		_ = binary.Write(&head, le, e.typ)
		_ = binary.Write(&head, le, e.count)
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			head.Write(inline)
		} else {
			_ = binary.Write(&head, le, dataOff+uint32(tail.Len()))
			tail.Write(e.data)
		}
	}
	head.Write([]byte{0, 0, 0, 0}) // no next IFD
	head.Write(tail.Bytes())
	return head.Bytes()
}

func ifd0Entries(tags Tags) []entry {
	var out []entry
	if tags.Make != "" {
		out = append(out, asciiEntry(tagMake, tags.Make))
	}
	if tags.Model != "" {
		out = append(out, asciiEntry(tagModel, tags.Model))
	}
	if tags.DateTime != "" {
		out = append(out, asciiEntry(tagDateTime, tags.DateTime))
	}
	return out
}

func exifEntries(tags Tags) []entry {
	var out []entry
	if tags.ExposureTime.Den != 0 {
		out = append(out, ratEntry(tagExposureTime, tags.ExposureTime))
	}
	if tags.FNumber.Den != 0 {
		out = append(out, ratEntry(tagFNumber, tags.FNumber))
	}
	if tags.ISO != 0 {
		out = append(out, shortEntry(tagISO, tags.ISO))
	}
	if tags.DateTimeOriginal != "" {
		out = append(out, asciiEntry(tagDateTimeOriginal, tags.DateTimeOriginal))
	}
	if tags.FocalLength.Den != 0 {
		out = append(out, ratEntry(tagFocalLength, tags.FocalLength))
	}
	if tags.Lens != "" {
		out = append(out, asciiEntry(tagLensModel, tags.Lens))
	}
	return out
}

func gpsEntries(tags Tags) []entry {
	if tags.LatRef == "" || tags.LonRef == "" {
		return nil
	}
	out := []entry{
		asciiEntry(tagGPSLatRef, tags.LatRef),
		ratEntry(tagGPSLat, tags.Lat[0], tags.Lat[1], tags.Lat[2]),
		asciiEntry(tagGPSLonRef, tags.LonRef),
		ratEntry(tagGPSLon, tags.Lon[0], tags.Lon[1], tags.Lon[2]),
	}
	if tags.Altitude.Den != 0 {
		ref := byte(0)
		if tags.BelowSeaLevel {
			ref = 1
		}
		out = append(out, byteEntry(tagGPSAltRef, ref))
		out = append(out, ratEntry(tagGPSAlt, tags.Altitude))
	}
	return out
}

// Block returns an APP1 payload body: the "Exif\x00\x00" marker followed by
// a little-endian TIFF holding the tags.
func Block(tags Tags) []byte {
	ifd0 := ifd0Entries(tags)
	exif := exifEntries(tags)
	gps := gpsEntries(tags)

	if len(exif) > 0 {
		ifd0 = append(ifd0, longEntry(tagExifIFD, 0))
	}
	if len(gps) > 0 {
		ifd0 = append(ifd0, longEntry(tagGPSIFD, 0))
	}

	next := uint32(8 + ifdSize(ifd0))
	var exifOff, gpsOff uint32
	if len(exif) > 0 {
		exifOff = next
		next += uint32(ifdSize(exif))
	}
	if len(gps) > 0 {
		gpsOff = next
	}
	for i := range ifd0 {
		switch ifd0[i].tag {
		case tagExifIFD:
			ifd0[i].data = le.AppendUint32(nil, exifOff)
		case tagGPSIFD:
			ifd0[i].data = le.AppendUint32(nil, gpsOff)
		}
	}

	var tiff bytes.Buffer
	tiff.WriteString("II")
	_ = binary.Write(&tiff, le, uint16(42))
	_ = binary.Write(&tiff, le, uint32(8))
	tiff.Write(encodeIFD(8, ifd0))
	if len(exif) > 0 {
		tiff.Write(encodeIFD(exifOff, exif))
	}
	if len(gps) > 0 {
		tiff.Write(encodeIFD(gpsOff, gps))
	}

	return append([]byte("Exif\x00\x00"), tiff.Bytes()...)
}

// JPEG encodes a plain width x height image and splices the EXIF block in as
// an APP1 segment right after the start-of-image marker.
func JPEG(t testing.TB, width, height int, tags Tags) []byte {
	t.Helper()

	var img bytes.Buffer
	if err := jpeg.Encode(&img, image.NewNRGBA(image.Rect(0, 0, width, height)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	block := Block(tags)
	app1 := []byte{0xFF, 0xE1}
	app1 = binary.BigEndian.AppendUint16(app1, uint16(len(block)+2))
	app1 = append(app1, block...)

	raw := img.Bytes()
	out := make([]byte, 0, len(raw)+len(app1))
	out = append(out, raw[:2]...) // SOI
	out = append(out, app1...)
	out = append(out, raw[2:]...)
	return out
}
