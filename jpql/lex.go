package jpql

import (
	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

const (
	whitespaceToken int = iota
	identifierToken
	namedToken
	positionalToken
	numberToken
	stringToken
	comparisonToken
	arithmeticToken
	openToken
	closeToken
	commaToken
)

var whitespaceMatcher = parsly.NewToken(whitespaceToken, "Whitespace", matcher.NewWhiteSpace())
var identifierMatcher = parsly.NewToken(identifierToken, "Identifier", &identifier{})
var namedMatcher = parsly.NewToken(namedToken, ":name", &placeholder{prefix: ':', word: true})
var positionalMatcher = parsly.NewToken(positionalToken, "?N", &placeholder{prefix: '?'})
var numberMatcher = parsly.NewToken(numberToken, "Number", matcher.NewNumber())
var stringMatcher = parsly.NewToken(stringToken, "String", matcher.NewQuote('\'', '\\'))
var comparisonMatcher = parsly.NewToken(comparisonToken, "Comparison", matcher.NewFragments(
	[]byte(">="), []byte("<="), []byte("<>"), []byte("!="), []byte("="), []byte(">"), []byte("<"),
))
var arithmeticMatcher = parsly.NewToken(arithmeticToken, "Arithmetic", matcher.NewFragments([]byte("+"), []byte("-")))
var openMatcher = parsly.NewToken(openToken, "(", matcher.NewByte('('))
var closeMatcher = parsly.NewToken(closeToken, ")", matcher.NewByte(')'))
var commaMatcher = parsly.NewToken(commaToken, ",", matcher.NewByte(','))

var candidates = []*parsly.Token{
	namedMatcher, positionalMatcher, stringMatcher, comparisonMatcher, arithmeticMatcher,
	numberMatcher, openMatcher, closeMatcher, commaMatcher, identifierMatcher,
}

// identifier 标识符，允许用 . 连接的路径，例如 m.team.name
type identifier struct{}

func (m *identifier) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	if pos >= len(input) || !isLetter(input[pos]) {
		return 0
	}
	i := pos + 1
	for i < len(input) {
		c := input[i]
		if isLetter(c) || isDigit(c) {
			i++
			continue
		}
		if c == '.' && i+1 < len(input) && isLetter(input[i+1]) {
			i++
			continue
		}
		break
	}
	return i - pos
}

// placeholder :name 或者 ?1
type placeholder struct {
	prefix byte
	word   bool
}

func (m *placeholder) Match(cursor *parsly.Cursor) int {
	input := cursor.Input
	pos := cursor.Pos
	if pos+1 >= len(input) || input[pos] != m.prefix {
		return 0
	}
	i := pos + 1
	if m.word && !isLetter(input[i]) {
		return 0
	}
	for i < len(input) && (isDigit(input[i]) || (m.word && isLetter(input[i]))) {
		i++
	}
	if i == pos+1 {
		return 0
	}
	return i - pos
}

func isLetter(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

type token struct {
	code int
	text string
	pos  int
}

func tokenize(text string) ([]token, error) {
	cursor := parsly.NewCursor("", []byte(text), 0)
	var tokens []token
	for cursor.Pos < cursor.InputSize {
		pos := cursor.Pos
		matched := cursor.MatchAfterOptional(whitespaceMatcher, candidates...)
		switch matched.Code {
		case parsly.EOF:
			return tokens, nil
		case parsly.Invalid:
			if isBlank(cursor.Input[cursor.Pos:]) {
				return tokens, nil
			}
			return nil, malformed(text, cursor.Pos, "unexpected character %q", cursor.Input[cursor.Pos])
		}
		tokens = append(tokens, token{code: matched.Code, text: matched.Text(cursor), pos: pos})
	}
	return tokens, nil
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}
