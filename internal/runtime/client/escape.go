package client

const hexDigits = "0123456789abcdef"

// EncodeErrorPayload builds {"errorType":..,"errorMessage":..} by hand. Only
// control characters, quotes and backslashes are escaped; every other byte,
// multi-byte UTF-8 included, is copied through.
func EncodeErrorPayload(errorType, errorMessage string) []byte {
	buf := make([]byte, 0, len(errorType)+len(errorMessage)+36)
	buf = append(buf, `{"errorType":"`...)
	buf = appendEscaped(buf, errorType)
	buf = append(buf, `","errorMessage":"`...)
	buf = appendEscaped(buf, errorMessage)
	buf = append(buf, `"}`...)
	return buf
}

func appendEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '"':
			buf = append(buf, '\\', '"')
		case b == '\\':
			buf = append(buf, '\\', '\\')
		case b == '\b':
			buf = append(buf, '\\', 'b')
		case b == '\f':
			buf = append(buf, '\\', 'f')
		case b == '\n':
			buf = append(buf, '\\', 'n')
		case b == '\r':
			buf = append(buf, '\\', 'r')
		case b == '\t':
			buf = append(buf, '\\', 't')
		case b < 0x20:
			buf = append(buf, '\\', 'u', '0', '0', hexDigits[b>>4], hexDigits[b&0xf])
		default:
			buf = append(buf, b)
		}
	}
	return buf
}
