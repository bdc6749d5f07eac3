package media

import "bytes"

// HEIF family brands found in the ftyp box.
var heifBrands = [][]byte{
	[]byte("heic"), []byte("heix"), []byte("hevc"), []byte("hevx"),
	[]byte("heim"), []byte("heis"), []byte("mif1"), []byte("msf1"),
}

// DetectAlternateEncoding reports whether raw is a HEIF container. The
// major brand sits at bytes 8..12, right after the "ftyp" box type at 4..8.
func DetectAlternateEncoding(raw []byte) bool {
	if len(raw) < 12 || !bytes.Equal(raw[4:8], []byte("ftyp")) {
		return false
	}
	brand := raw[8:12]
	for _, b := range heifBrands {
		if bytes.Equal(brand, b) {
			return true
		}
	}
	return false
}

// Extension picks a backup object suffix from the raw bytes.
func Extension(raw []byte) string {
	if DetectAlternateEncoding(raw) {
		return ".heic"
	}
	switch {
	case bytes.HasPrefix(raw, []byte{0xFF, 0xD8, 0xFF}):
		return ".jpg"
	case bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")):
		return ".png"
	case bytes.HasPrefix(raw, []byte("GIF8")):
		return ".gif"
	case len(raw) >= 12 && bytes.Equal(raw[0:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WEBP")):
		return ".webp"
	}
	return ".bin"
}

// ContentTypeFor maps an Extension result to a MIME type.
func ContentTypeFor(ext string) string {
	switch ext {
	case ".heic":
		return "image/heic"
	case ".jpg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
