package at

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// pattern is a compiled receive pattern.
//
// Patterns are literal text with scanf-like verbs: %d captures a signed
// decimal, %x a hexadecimal number with an optional 0x prefix and %s a run of
// text. A %s is lazy unless it is the last element of the pattern. %% is a
// literal percent sign.
type pattern struct {
	re *regexp.Regexp
	// verbs holds the verb letter of each capture group, in order.
	verbs []byte
	// tail is the final literal byte of the pattern, or 0 when the pattern
	// ends in a verb. Patterns with a tail match as soon as it arrives, the
	// others match complete lines.
	tail byte
}

var patterns sync.Map // string -> *pattern

func compile(format string) (*pattern, error) {
	if p, ok := patterns.Load(format); ok {
		return p.(*pattern), nil
	}

	var (
		expr  strings.Builder
		verbs []byte
		tail  byte
	)
	expr.WriteString("^")
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			expr.WriteString(regexp.QuoteMeta(string(c)))
			tail = c
			continue
		}
		if i+1 >= len(format) {
			return nil, fmt.Errorf("at: dangling %% in pattern %q", format)
		}
		i++
		switch v := format[i]; v {
		case 'd':
			expr.WriteString(`([-+]?\d+)`)
		case 'x':
			expr.WriteString(`(?:0[xX])?([0-9a-fA-F]+)`)
		case 's':
			if i == len(format)-1 {
				expr.WriteString(`(.*)`)
			} else {
				expr.WriteString(`(.*?)`)
			}
		case '%':
			expr.WriteString("%")
			tail = '%'
			continue
		default:
			return nil, fmt.Errorf("at: unknown verb %%%c in pattern %q", v, format)
		}
		verbs = append(verbs, format[i])
		tail = 0
	}

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("at: compile pattern %q: %w", format, err)
	}
	p := &pattern{re: re, verbs: verbs, tail: tail}
	patterns.Store(format, p)
	return p, nil
}

// assign stores the captured groups of m into args. Arguments beyond the
// number of verbs are ignored, as are nil arguments.
func (p *pattern) assign(m [][]byte, args []any) error {
	for i, v := range p.verbs {
		if i >= len(args) || args[i] == nil {
			continue
		}
		text := string(m[i+1])
		switch dst := args[i].(type) {
		case *string:
			*dst = text
		case *int:
			base := 10
			if v == 'x' {
				base = 16
			}
			n, err := strconv.ParseInt(text, base, 64)
			if err != nil {
				return fmt.Errorf("at: parse %q: %w", text, err)
			}
			*dst = int(n)
		default:
			return fmt.Errorf("at: unsupported argument type %T", args[i])
		}
	}
	return nil
}

// Match applies pattern to a complete line and stores the captures into args
// (*int for %d and %x, *string for %s). It reports whether the line matched.
func Match(pattern, line string, args ...any) bool {
	p, err := compile(pattern)
	if err != nil {
		return false
	}
	m := p.re.FindSubmatch([]byte(line))
	if m == nil {
		return false
	}
	return p.assign(m, args) == nil
}
