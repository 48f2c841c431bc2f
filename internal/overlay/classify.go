// ABOUTME: Lexical classification of PHP source files for class overlay generation.
// ABOUTME: Finds the first class declaration and whether it is abstract, skipping comments and strings.

package overlay

import (
	"bytes"
	"fmt"
	"os"
)

// Kind is the classification verdict for a source file.
type Kind int

const (
	// KindNone means the file declares no class and gets no overlay.
	KindNone Kind = iota
	// KindConcrete is a plain class declaration.
	KindConcrete
	// KindAbstract is an abstract class declaration.
	KindAbstract
)

func (k Kind) String() string {
	switch k {
	case KindConcrete:
		return "concrete"
	case KindAbstract:
		return "abstract"
	default:
		return "none"
	}
}

// Facts is what the scanner learned about a source file.
type Facts struct {
	HasClass   bool
	IsAbstract bool
	ClassName  string
	// Ambiguous is set when the tokens did not resolve to a clear verdict:
	// a dangling abstract keyword, a class keyword without a name, or input
	// that ends inside a comment, string or heredoc. Ambiguous files are
	// classified as KindNone.
	Ambiguous bool
}

// Kind collapses the facts into a verdict.
func (f Facts) Kind() Kind {
	switch {
	case !f.HasClass || f.Ambiguous:
		return KindNone
	case f.IsAbstract:
		return KindAbstract
	default:
		return KindConcrete
	}
}

// Classify reads and classifies a PHP source file.
func Classify(path string) (Facts, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Facts{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ClassifySource(src), nil
}

// ClassifySource scans PHP source for the first class declaration.
//
// The abstract flag is set by the abstract keyword and cleared by any
// function, interface or trait keyword seen before the class keyword. This
// means an abstract method declared ahead of a class (for example inside an
// earlier trait) leaves the class concrete. Member constant fetches such as
// Foo::class and anonymous classes (new class) are not declarations.
func ClassifySource(src []byte) Facts {
	sc := &scanner{src: src}
	var facts Facts
	abstract := false

	for {
		tok, ok := sc.next()
		if !ok {
			break
		}
		if tok.kind != tokName {
			continue
		}

		switch string(bytes.ToLower(tok.text)) {
		case "abstract":
			abstract = true
		case "function", "interface", "trait":
			abstract = false
		case "class":
			if tok.afterMember || tok.afterNew {
				continue
			}
			facts.HasClass = true
			facts.IsAbstract = abstract
			name, ok := sc.next()
			if !ok || name.kind != tokName || bytes.ContainsRune(name.text, '\\') {
				facts.Ambiguous = true
			} else {
				facts.ClassName = string(name.text)
			}
			return facts
		}
	}

	if abstract || sc.unterminated {
		facts.Ambiguous = true
	}
	return facts
}

type tokKind int

const (
	tokName tokKind = iota
	tokOther
)

type token struct {
	kind        tokKind
	text        []byte
	afterMember bool // preceded by ->, ?-> or ::
	afterNew    bool // preceded by the new keyword
}

// scanner is a minimal PHP tokenizer: it only distinguishes names from
// everything else and knows enough about comments, strings, heredocs and
// inline HTML to never report a keyword that is not code.
type scanner struct {
	src          []byte
	pos          int
	inPHP        bool
	member       bool
	isNew        bool
	unterminated bool
}

func (s *scanner) next() (token, bool) {
	for s.pos < len(s.src) {
		if !s.inPHP {
			if !s.skipInlineHTML() {
				return token{}, false
			}
			continue
		}

		c := s.src[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case s.hasPrefix("?>"):
			s.pos += 2
			s.inPHP = false
			s.member, s.isNew = false, false
		case s.hasPrefix("//"), c == '#' && !s.hasPrefix("#["):
			s.skipLineComment()
		case s.hasPrefix("/*"):
			end := bytes.Index(s.src[s.pos+2:], []byte("*/"))
			if end < 0 {
				s.unterminated = true
				s.pos = len(s.src)
				return token{}, false
			}
			s.pos += 2 + end + 2
		case c == '\'' || c == '"' || c == '`':
			s.skipQuoted(c)
			return s.emit(tokOther, nil), true
		case s.hasPrefix("<<<"):
			s.skipHeredoc()
			return s.emit(tokOther, nil), true
		case c == '$':
			s.pos++
			for s.pos < len(s.src) && isNameByte(s.src[s.pos]) {
				s.pos++
			}
			return s.emit(tokOther, nil), true
		case s.hasPrefix("?->"):
			s.pos += 3
			s.member = true
		case s.hasPrefix("->"), s.hasPrefix("::"):
			s.pos += 2
			s.member = true
		case isNameStart(c) || c == '\\':
			start := s.pos
			for s.pos < len(s.src) && (isNameByte(s.src[s.pos]) || s.src[s.pos] == '\\') {
				s.pos++
			}
			text := s.src[start:s.pos]
			tok := s.emit(tokName, text)
			s.isNew = bytes.EqualFold(text, []byte("new"))
			return tok, true
		default:
			s.pos++
			return s.emit(tokOther, nil), true
		}
	}
	return token{}, false
}

// emit builds a token carrying the pending member/new context and resets it.
func (s *scanner) emit(kind tokKind, text []byte) token {
	tok := token{kind: kind, text: text, afterMember: s.member, afterNew: s.isNew}
	s.member = false
	s.isNew = false
	return tok
}

func (s *scanner) hasPrefix(p string) bool {
	return bytes.HasPrefix(s.src[s.pos:], []byte(p))
}

// skipInlineHTML advances to the next open tag. Returns false at EOF.
func (s *scanner) skipInlineHTML() bool {
	idx := bytes.Index(s.src[s.pos:], []byte("<?"))
	if idx < 0 {
		s.pos = len(s.src)
		return false
	}
	s.pos += idx + 2
	switch {
	case len(s.src)-s.pos >= 3 && bytes.EqualFold(s.src[s.pos:s.pos+3], []byte("php")):
		s.pos += 3
	case s.hasPrefix("="):
		s.pos++
	}
	s.inPHP = true
	return true
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		if s.hasPrefix("?>") {
			return
		}
		s.pos++
	}
}

func (s *scanner) skipQuoted(quote byte) {
	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case quote:
			s.pos++
			return
		}
		s.pos++
	}
	s.pos = len(s.src)
	s.unterminated = true
}

func (s *scanner) skipHeredoc() {
	s.pos += 3
	for s.pos < len(s.src) && (s.src[s.pos] == ' ' || s.src[s.pos] == '\t') {
		s.pos++
	}
	if s.pos < len(s.src) && (s.src[s.pos] == '\'' || s.src[s.pos] == '"') {
		s.pos++
	}
	start := s.pos
	for s.pos < len(s.src) && isNameByte(s.src[s.pos]) {
		s.pos++
	}
	label := s.src[start:s.pos]
	if len(label) == 0 {
		s.unterminated = true
		s.pos = len(s.src)
		return
	}

	// The closing label may be indented and is followed by a non-name byte.
	for {
		nl := bytes.IndexByte(s.src[s.pos:], '\n')
		if nl < 0 {
			s.unterminated = true
			s.pos = len(s.src)
			return
		}
		s.pos += nl + 1
		line := s.pos
		for line < len(s.src) && (s.src[line] == ' ' || s.src[line] == '\t') {
			line++
		}
		if bytes.HasPrefix(s.src[line:], label) {
			end := line + len(label)
			if end >= len(s.src) || !isNameByte(s.src[end]) {
				s.pos = end
				return
			}
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isNameByte(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
