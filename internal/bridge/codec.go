package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ProtocolVersion identifies the wire grammar below. Any new field or value
// kind requires a new version.
//
//	request  = {"Action":"<tag>"[,"Data":"<string>"]}
//	response = {"Success":true|false[,"Result":"<string>"][,"Error":"<string>"]}
//
// Each message is one line. Decoders accept the members in any order, skip
// unknown scalar members, and treat null like an absent member.
const ProtocolVersion = 1

// Action tags understood by the bundled peer.
const (
	ActionExecuteCommand  = "execute_command"
	ActionAnalyzeText     = "analyze_text"
	ActionGetSystemInfo   = "get_system_info"
	ActionArchDiagnostics = "arch_diagnostics"
	ActionTerminate       = "terminate"
)

// Request is one message from client to peer.
type Request struct {
	Action string
	Data   *string
}

// Response is one message from peer to client. When Success is false the
// Result is not meaningful; when Success is true the Error is ignored.
type Response struct {
	Success bool
	Result  *string
	Error   *string
}

// NewRequest builds a request with an optional payload. An empty data
// string still produces a Data member.
func NewRequest(action string, data ...string) Request {
	req := Request{Action: action}
	if len(data) > 0 {
		d := data[0]
		req.Data = &d
	}
	return req
}

// ResultText returns the result or "" when absent.
func (r Response) ResultText() string {
	if r.Result == nil {
		return ""
	}
	return *r.Result
}

// ErrorText returns the error message or "" when absent.
func (r Response) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Succeeded builds a successful response carrying result.
func Succeeded(result string) Response {
	return Response{Success: true, Result: &result}
}

// Failed builds a failed response carrying msg.
func Failed(msg string) Response {
	return Response{Success: false, Error: &msg}
}

// EncodeRequest renders req as a single line without the trailing newline.
func EncodeRequest(req Request) (string, error) {
	if req.Action == "" {
		return "", fmt.Errorf("%w: empty action", ErrBridgeProtocol)
	}
	var b strings.Builder
	b.WriteString(`{"Action":`)
	writeString(&b, req.Action)
	if req.Data != nil {
		b.WriteString(`,"Data":`)
		writeString(&b, *req.Data)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// EncodeResponse renders resp as a single line without the trailing newline.
func EncodeResponse(resp Response) string {
	var b strings.Builder
	b.WriteString(`{"Success":`)
	b.WriteString(strconv.FormatBool(resp.Success))
	if resp.Result != nil {
		b.WriteString(`,"Result":`)
		writeString(&b, *resp.Result)
	}
	if resp.Error != nil {
		b.WriteString(`,"Error":`)
		writeString(&b, *resp.Error)
	}
	b.WriteByte('}')
	return b.String()
}

// DecodeRequest parses one request line.
func DecodeRequest(line string) (Request, error) {
	members, err := decodeObject(line)
	if err != nil {
		return Request{}, err
	}
	action, ok := members["Action"]
	if !ok || action.kind != kindString || action.str == "" {
		return Request{}, fmt.Errorf("%w: missing Action", ErrBridgeProtocol)
	}
	req := Request{Action: action.str}
	if data, ok := members["Data"]; ok {
		switch data.kind {
		case kindString:
			d := data.str
			req.Data = &d
		case kindNull:
		default:
			return Request{}, fmt.Errorf("%w: Data must be a string", ErrBridgeProtocol)
		}
	}
	return req, nil
}

// DecodeResponse parses one response line. A missing Success member reads
// as false.
func DecodeResponse(line string) (Response, error) {
	members, err := decodeObject(line)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if v, ok := members["Success"]; ok {
		switch v.kind {
		case kindBool:
			resp.Success = v.b
		case kindNull:
		default:
			return Response{}, fmt.Errorf("%w: Success must be a boolean", ErrBridgeProtocol)
		}
	}
	if resp.Result, err = optionalString(members, "Result"); err != nil {
		return Response{}, err
	}
	if resp.Error, err = optionalString(members, "Error"); err != nil {
		return Response{}, err
	}
	if resp.Success {
		resp.Error = nil
	}
	return resp, nil
}

func optionalString(members map[string]scalar, name string) (*string, error) {
	v, ok := members[name]
	if !ok || v.kind == kindNull {
		return nil, nil
	}
	if v.kind != kindString {
		return nil, fmt.Errorf("%w: %s must be a string", ErrBridgeProtocol, name)
	}
	s := v.str
	return &s, nil
}

const hexDigits = "0123456789abcdef"

// writeString writes s as a quoted string. Control characters are escaped
// so the message never spans more than one line.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}

type scalarKind int

const (
	kindString scalarKind = iota
	kindBool
	kindNull
	kindNumber
)

type scalar struct {
	kind scalarKind
	str  string
	b    bool
}

// knownMembers are the labels the protocol defines. Any other member may hold
// a nested object or array, which is skipped.
var knownMembers = map[string]bool{
	"Action":  true,
	"Data":    true,
	"Success": true,
	"Result":  true,
	"Error":   true,
}

// decodeObject reads a flat object. Known members must be scalars; nested
// values under other labels are skipped.
func decodeObject(line string) (map[string]scalar, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != '{' || line[len(line)-1] != '}' {
		return nil, fmt.Errorf("%w: not an object: %q", ErrBridgeProtocol, truncate(line, 64))
	}
	d := &decoder{s: line, pos: 1}
	members := make(map[string]scalar)

	d.skipSpace()
	if d.peek() == '}' {
		d.pos++
		return members, d.finish()
	}
	for {
		d.skipSpace()
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		d.skipSpace()
		if err := d.expect(':'); err != nil {
			return nil, err
		}
		d.skipSpace()
		if c := d.peek(); !knownMembers[key] && (c == '{' || c == '[') {
			if err := d.skipNested(); err != nil {
				return nil, err
			}
		} else {
			val, err := d.readScalar()
			if err != nil {
				return nil, err
			}
			members[key] = val
		}
		d.skipSpace()
		switch d.peek() {
		case ',':
			d.pos++
		case '}':
			d.pos++
			return members, d.finish()
		default:
			return nil, d.errorf("expected ',' or '}'")
		}
	}
}

type decoder struct {
	s   string
	pos int
}

func (d *decoder) peek() byte {
	if d.pos >= len(d.s) {
		return 0
	}
	return d.s[d.pos]
}

func (d *decoder) skipSpace() {
	for d.pos < len(d.s) {
		switch d.s[d.pos] {
		case ' ', '\t', '\r', '\n':
			d.pos++
		default:
			return
		}
	}
}

func (d *decoder) expect(c byte) error {
	if d.peek() != c {
		return d.errorf("expected %q", c)
	}
	d.pos++
	return nil
}

func (d *decoder) finish() error {
	if d.pos != len(d.s) {
		return d.errorf("trailing data")
	}
	return nil
}

func (d *decoder) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrBridgeProtocol, fmt.Sprintf(format, args...), d.pos)
}

func (d *decoder) readScalar() (scalar, error) {
	switch c := d.peek(); {
	case c == '"':
		s, err := d.readString()
		return scalar{kind: kindString, str: s}, err
	case strings.HasPrefix(d.s[d.pos:], "true"):
		d.pos += 4
		return scalar{kind: kindBool, b: true}, nil
	case strings.HasPrefix(d.s[d.pos:], "false"):
		d.pos += 5
		return scalar{kind: kindBool}, nil
	case strings.HasPrefix(d.s[d.pos:], "null"):
		d.pos += 4
		return scalar{kind: kindNull}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		start := d.pos
		for d.pos < len(d.s) && strings.IndexByte("+-0123456789.eE", d.s[d.pos]) >= 0 {
			d.pos++
		}
		return scalar{kind: kindNumber, str: d.s[start:d.pos]}, nil
	default:
		return scalar{}, d.errorf("unsupported value")
	}
}

// skipNested moves past a balanced object or array. Brackets inside strings
// do not count.
func (d *decoder) skipNested() error {
	depth := 0
	for d.pos < len(d.s) {
		switch d.s[d.pos] {
		case '"':
			if _, err := d.readString(); err != nil {
				return err
			}
			continue
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				d.pos++
				return nil
			}
		}
		d.pos++
	}
	return d.errorf("unterminated nested value")
}

// readString reads a quoted string starting at the opening quote. The value
// ends at the first quote not preceded by an escaping backslash.
func (d *decoder) readString() (string, error) {
	if err := d.expect('"'); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		if d.pos >= len(d.s) {
			return "", d.errorf("unterminated string")
		}
		c := d.s[d.pos]
		switch {
		case c == '"':
			d.pos++
			return b.String(), nil
		case c == '\\':
			d.pos++
			if err := d.readEscape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
			d.pos++
		}
	}
}

func (d *decoder) readEscape(b *strings.Builder) error {
	if d.pos >= len(d.s) {
		return d.errorf("unterminated escape")
	}
	c := d.s[d.pos]
	d.pos++
	switch c {
	case '"', '\\', '/':
		b.WriteByte(c)
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'u':
		r, err := d.readHex4()
		if err != nil {
			return err
		}
		if utf16.IsSurrogate(r) {
			if strings.HasPrefix(d.s[d.pos:], `\u`) {
				d.pos += 2
				low, err := d.readHex4()
				if err != nil {
					return err
				}
				r = utf16.DecodeRune(r, low)
			} else {
				r = utf8.RuneError
			}
		}
		b.WriteRune(r)
	default:
		return d.errorf("invalid escape %q", c)
	}
	return nil
}

func (d *decoder) readHex4() (rune, error) {
	if d.pos+4 > len(d.s) {
		return 0, d.errorf("short unicode escape")
	}
	v, err := strconv.ParseUint(d.s[d.pos:d.pos+4], 16, 32)
	if err != nil {
		return 0, d.errorf("bad unicode escape")
	}
	d.pos += 4
	return rune(v), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
