package archive

import "bytes"

// Format 已识别的图片格式
type Format struct {
	Name string
	Ext  string
	MIME string
}

type signature struct {
	format Format
	parts  []sigPart
}

type sigPart struct {
	offset int
	bytes  []byte
}

var signatures = []signature{
	{format: Format{Name: "bmp", Ext: "bmp", MIME: "image/bmp"}, parts: []sigPart{{0, []byte("BM")}}},
	{format: Format{Name: "jpg", Ext: "jpg", MIME: "image/jpeg"}, parts: []sigPart{{0, []byte{0xFF, 0xD8, 0xFF}}}},
	{format: Format{Name: "gif", Ext: "gif", MIME: "image/gif"}, parts: []sigPart{{0, []byte("GIF8")}}},
	{format: Format{Name: "png", Ext: "png", MIME: "image/png"}, parts: []sigPart{{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}}},
	{format: Format{Name: "webp", Ext: "webp", MIME: "image/webp"}, parts: []sigPart{{0, []byte("RIFF")}, {8, []byte("WEBP")}}},
}

// Sniff 根据头部字节识别格式
func Sniff(data []byte) (Format, error) {
	if len(data) == 0 {
		return Format{}, ErrEmptyPayload
	}
	for _, sig := range signatures {
		if sig.match(data) {
			return sig.format, nil
		}
	}
	return Format{}, ErrUnknownFormat
}

func (s signature) match(data []byte) bool {
	for _, p := range s.parts {
		end := p.offset + len(p.bytes)
		if len(data) < end || !bytes.Equal(data[p.offset:end], p.bytes) {
			return false
		}
	}
	return true
}
