package persist

import "strings"

// quoteTemplate escapes the literal parts of template source for use inside
// a quoted HCL string. Interpolation and directive bodies are copied as is.
func quoteTemplate(src string) string {
	var b strings.Builder
	depth := 0
	inString := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if depth > 0 {
			b.WriteByte(c)
			switch {
			case inString && c == '\\' && i+1 < len(src):
				i++
				b.WriteByte(src[i])
			case c == '"':
				inString = !inString
			case !inString && c == '{':
				depth++
			case !inString && c == '}':
				depth--
			}
			continue
		}
		switch {
		case strings.HasPrefix(src[i:], "$${"), strings.HasPrefix(src[i:], "%%{"):
			b.WriteString(src[i : i+3])
			i += 2
		case strings.HasPrefix(src[i:], "${"), strings.HasPrefix(src[i:], "%{"):
			b.WriteString(src[i : i+2])
			i++
			depth = 1
		case c == '"':
			b.WriteString(`\"`)
		case c == '\\':
			b.WriteString(`\\`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unquoteTemplate reverses quoteTemplate.
func unquoteTemplate(quoted string) string {
	var b strings.Builder
	depth := 0
	inString := false
	for i := 0; i < len(quoted); i++ {
		c := quoted[i]
		if depth > 0 {
			b.WriteByte(c)
			switch {
			case inString && c == '\\' && i+1 < len(quoted):
				i++
				b.WriteByte(quoted[i])
			case c == '"':
				inString = !inString
			case !inString && c == '{':
				depth++
			case !inString && c == '}':
				depth--
			}
			continue
		}
		switch {
		case strings.HasPrefix(quoted[i:], "$${"), strings.HasPrefix(quoted[i:], "%%{"):
			b.WriteString(quoted[i : i+3])
			i += 2
		case strings.HasPrefix(quoted[i:], "${"), strings.HasPrefix(quoted[i:], "%{"):
			b.WriteString(quoted[i : i+2])
			i++
			depth = 1
		case c == '\\' && i+1 < len(quoted):
			i++
			switch quoted[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(quoted[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
