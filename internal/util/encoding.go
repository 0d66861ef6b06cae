package util

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// legacyEncodings 设备输出不是 UTF-8 时依次尝试的编码
var legacyEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// EnsureUTF8Bytes 将命令输出转换为 UTF-8 字符串。
// 已是合法 UTF-8 时直接返回；否则按常见旧编码解码，全部失败则原样转换。
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range legacyEncodings {
		if s, ok := decode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func decode(enc encoding.Encoding, b []byte) (string, bool) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), enc.NewDecoder()))
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}
