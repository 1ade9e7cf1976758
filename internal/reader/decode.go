package reader

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const peekSize = 64 * 1024

// decodeText оборачивает исходный поток так, чтобы на выходе всегда был UTF-8:
//   - BOM UTF-8 отбрасывается, UTF-16 с BOM перекодируется;
//   - без BOM и с невалидным UTF-8 в начале файла считаем кодировку Windows-1252.
func decodeText(r io.Reader) *bufio.Reader {
	raw := bufio.NewReaderSize(r, peekSize)
	head, _ := raw.Peek(peekSize)

	var fallback transform.Transformer = encoding.Nop.NewDecoder()
	if !hasBOM(head) && !validUTF8Prefix(head, len(head) == peekSize) {
		fallback = charmap.Windows1252.NewDecoder()
	}

	return bufio.NewReaderSize(transform.NewReader(raw, unicode.BOMOverride(fallback)), peekSize)
}

func hasBOM(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(b, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(b, []byte{0xFE, 0xFF})
}

// validUTF8Prefix проверяет выборку; если выборка обрезана буфером,
// незавершенная последняя руна не считается ошибкой.
func validUTF8Prefix(b []byte, truncated bool) bool {
	if utf8.Valid(b) {
		return true
	}
	if !truncated {
		return false
	}
	for i := 1; i < utf8.UTFMax && i < len(b); i++ {
		if utf8.Valid(b[:len(b)-i]) {
			return true
		}
	}
	return false
}
