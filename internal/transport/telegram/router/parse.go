package router

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrUnbalancedQuotes is reported when a quoted argument is never closed.
var ErrUnbalancedQuotes = errors.New("unbalanced quotes")

func newReqID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// splitCommand separates "/word@bot rest" into the command word (lowercase,
// without the bot suffix) and the untouched remainder.
func splitCommand(text string) (word, tail string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	end := strings.IndexAny(text, " \t\n\r")
	if end < 0 {
		end = len(text)
	}
	word = text[1:end]
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), strings.TrimSpace(text[end:]), true
}

// TokenizeArgs splits s on whitespace, honouring single and double quotes
// and backslash escapes:
//
//	a "b c" 'd e' f\ g  ->  [a, b c, d e, f g]
func TokenizeArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var (
		out    []string
		buf    strings.Builder
		inWord bool
		quote  rune
		esc    bool
	)
	flush := func() {
		if inWord {
			out = append(out, buf.String())
			buf.Reset()
			inWord = false
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\' && quote != '\'':
			esc = true
			inWord = true
		case quote != 0:
			if ch == quote {
				quote = 0
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			quote = ch
			inWord = true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
			inWord = true
		}
	}
	if quote != 0 || esc {
		return nil, ErrUnbalancedQuotes
	}
	flush()
	return out, nil
}
