package pdf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Lexer tokenizes PDF syntax into Objects. It owns a buffered reader over an
// io.ReadSeeker positioned by the caller; each Reader lookup builds a fresh
// Lexer so no cursor state is shared between concurrent readers.
type Lexer struct {
	r *bufio.Reader
}

func NewLexer(rs io.Reader) *Lexer {
	return &Lexer{r: bufio.NewReader(rs)}
}

// ReadObject parses the next complete object from the stream.
func (l *Lexer) ReadObject() (Object, error) {
	l.skipWhitespace()

	b, err := l.r.Peek(1)
	if err != nil {
		return nil, err
	}

	switch {
	case b[0] == '/':
		return l.readName()
	case b[0] == '(':
		return l.readString()
	case b[0] == '<':
		peek, _ := l.r.Peek(2)
		if len(peek) == 2 && peek[1] == '<' {
			return l.readDictionary()
		}
		return l.readHexString()
	case b[0] == '[':
		return l.readArray()
	case b[0] == '%':
		l.skipComment()
		return l.ReadObject()
	case isDigit(b[0]) || b[0] == '-' || b[0] == '+' || b[0] == '.':
		return l.readNumberOrReference()
	case isAlpha(b[0]):
		return l.readKeywordOrBoolean()
	default:
		return nil, fmt.Errorf("unexpected byte %q", b[0])
	}
}

func (l *Lexer) skipWhitespace() {
	for {
		b, err := l.r.Peek(1)
		if err != nil || !isWhitespace(b[0]) {
			return
		}
		l.r.ReadByte()
	}
}

func (l *Lexer) skipComment() {
	for {
		b, err := l.r.ReadByte()
		if err != nil || b == '\n' || b == '\r' {
			return
		}
	}
}

func (l *Lexer) readName() (NameObject, error) {
	l.r.ReadByte() // '/'
	var sb strings.Builder
	sb.WriteByte('/')
	for {
		b, err := l.r.Peek(1)
		if err != nil || isDelimiter(b[0]) || isWhitespace(b[0]) {
			break
		}
		l.r.ReadByte()
		if b[0] == '#' {
			hex := make([]byte, 2)
			if _, err := io.ReadFull(l.r, hex); err != nil {
				return "", err
			}
			v, err := strconv.ParseUint(string(hex), 16, 8)
			if err != nil {
				return "", fmt.Errorf("bad name escape #%s", hex)
			}
			sb.WriteByte(byte(v))
			continue
		}
		sb.WriteByte(b[0])
	}
	return NameObject(sb.String()), nil
}

func (l *Lexer) readString() (StringObject, error) {
	l.r.ReadByte() // '('
	var sb strings.Builder
	depth := 1
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			return "", err
		}
		switch b {
		case '(':
			depth++
			sb.WriteByte(b)
		case ')':
			depth--
			if depth == 0 {
				return StringObject(sb.String()), nil
			}
			sb.WriteByte(b)
		case '\\':
			next, err := l.r.ReadByte()
			if err != nil {
				return "", err
			}
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '(', ')', '\\':
				sb.WriteByte(next)
			case '0', '1', '2', '3', '4', '5', '6', '7':
				oct := string(next)
				for i := 0; i < 2; i++ {
					p, err := l.r.Peek(1)
					if err != nil || p[0] < '0' || p[0] > '7' {
						break
					}
					d, _ := l.r.ReadByte()
					oct += string(d)
				}
				v, _ := strconv.ParseUint(oct, 8, 16)
				sb.WriteByte(byte(v))
			default:
				sb.WriteByte(next)
			}
		default:
			sb.WriteByte(b)
		}
	}
}

func (l *Lexer) readHexString() (HexStringObject, error) {
	l.r.ReadByte() // '<'
	var data []byte
	for {
		b, err := l.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '>' {
			return HexStringObject(data), nil
		}
		if isWhitespace(b) {
			continue
		}
		data = append(data, b)
	}
}

func (l *Lexer) readArray() (ArrayObject, error) {
	l.r.ReadByte() // '['
	var arr ArrayObject
	for {
		l.skipWhitespace()
		b, err := l.r.Peek(1)
		if err != nil {
			return nil, err
		}
		if b[0] == ']' {
			l.r.ReadByte()
			return arr, nil
		}
		obj, err := l.ReadObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

func (l *Lexer) readDictionary() (DictionaryObject, error) {
	l.r.Discard(2) // "<<"
	dict := make(DictionaryObject)
	for {
		l.skipWhitespace()
		b, err := l.r.Peek(2)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if len(b) >= 2 && b[0] == '>' && b[1] == '>' {
			l.r.Discard(2)
			return dict, nil
		}
		keyObj, err := l.ReadObject()
		if err != nil {
			return nil, err
		}
		key, ok := keyObj.(NameObject)
		if !ok {
			return nil, fmt.Errorf("dictionary key must be a name, got %T", keyObj)
		}
		val, err := l.ReadObject()
		if err != nil {
			return nil, err
		}
		dict[string(key)] = val
	}
}

// readNumberOrReference disambiguates "12" from "12 0 R" by scanning ahead in
// the peek buffer for <digits> <ws> R <delim|ws>.
func (l *Lexer) readNumberOrReference() (Object, error) {
	first, err := l.readToken()
	if err != nil {
		return nil, err
	}
	l.skipWhitespace()

	peek, _ := l.r.Peek(24)
	idx := 0
	gen := ""
	for idx < len(peek) && isDigit(peek[idx]) {
		gen += string(peek[idx])
		idx++
	}
	if gen == "" {
		return makeNumber(first), nil
	}
	if idx >= len(peek) || !isWhitespace(peek[idx]) {
		return makeNumber(first), nil
	}
	for idx < len(peek) && isWhitespace(peek[idx]) {
		idx++
	}
	if idx < len(peek) && peek[idx] == 'R' {
		valid := idx+1 >= len(peek) || isWhitespace(peek[idx+1]) || isDelimiter(peek[idx+1])
		if valid {
			l.readToken() // generation
			l.skipWhitespace()
			l.readToken() // R
			num, _ := strconv.Atoi(first)
			g, _ := strconv.Atoi(gen)
			return IndirectObject{ObjectNumber: num, Generation: g}, nil
		}
	}
	return makeNumber(first), nil
}

func makeNumber(s string) NumberObject {
	f, _ := strconv.ParseFloat(s, 64)
	return NumberObject(f)
}

func (l *Lexer) readKeywordOrBoolean() (Object, error) {
	tok, err := l.readToken()
	if err != nil {
		return nil, err
	}
	switch tok {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	}
	return KeywordObject(tok), nil
}

func (l *Lexer) readToken() (string, error) {
	var sb strings.Builder
	for {
		b, err := l.r.Peek(1)
		if err != nil {
			if sb.Len() > 0 {
				break
			}
			return "", err
		}
		if isDelimiter(b[0]) || isWhitespace(b[0]) {
			break
		}
		l.r.ReadByte()
		sb.WriteByte(b[0])
	}
	return sb.String(), nil
}

func isWhitespace(b byte) bool {
	return b == 0x00 || b == 0x09 || b == 0x0A || b == 0x0C || b == 0x0D || b == 0x20
}

func isDelimiter(b byte) bool {
	return bytes.IndexByte([]byte("()<>[]{}/%"), b) != -1
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
