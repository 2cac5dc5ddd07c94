package pathutil

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// ErrUnsupportedEncoding means the declared tag-file encoding label could
// not be resolved to a known character set.
var ErrUnsupportedEncoding = errors.New("pathutil: unsupported tag file encoding")

// resolve maps a BagIt "Tag-File-Character-Encoding" label to an
// encoding.Encoding. htmlindex understands the usual aliases ("UTF-8",
// "ISO-8859-1", "windows-1252", ...); BagIt's own default of "UTF-8" is
// handled identically to any other label.
func resolve(label string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(label))
	if err != nil {
		return nil, ErrUnsupportedEncoding
	}
	return enc, nil
}

// Decode converts bytes encoded in the bag's declared tag_file_encoding
// into canonical UTF-8.
func Decode(label string, b []byte) ([]byte, error) {
	enc, err := resolve(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Bytes(b)
}

// Encode converts UTF-8 text into the bag's declared tag_file_encoding.
func Encode(label string, text []byte) ([]byte, error) {
	enc, err := resolve(label)
	if err != nil {
		return nil, err
	}
	return enc.NewEncoder().Bytes(text)
}

// DecodeReader wraps r so reads come out transcoded to UTF-8.
func DecodeReader(label string, r io.Reader) (io.Reader, error) {
	enc, err := resolve(label)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// EncodeWriter wraps w so UTF-8 writes come out transcoded to the
// declared encoding. The returned writer must be Closed (which does not
// close w) so any bytes buffered by a multi-byte encoder are flushed.
func EncodeWriter(label string, w io.Writer) (io.WriteCloser, error) {
	enc, err := resolve(label)
	if err != nil {
		return nil, err
	}
	return transform.NewWriter(w, enc.NewEncoder()), nil
}

// IsSupportedEncoding reports whether label resolves to a known charset.
func IsSupportedEncoding(label string) bool {
	_, err := resolve(label)
	return err == nil
}
