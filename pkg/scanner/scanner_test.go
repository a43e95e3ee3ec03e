package scanner

import "testing"

// scanAll drains the scanner into a slice, including the trailing EOF.
func scanAll(src string) []Token {
	s := New(src)
	var toks []Token
	for {
		tok := s.NextToken()
		toks = append(toks, tok)
		if tok.Kind == TokenEOF {
			return toks
		}
	}
}

// expectKinds asserts the token kinds produced for src, ignoring the EOF.
func expectKinds(t *testing.T, src string, want ...TokenKind) {
	t.Helper()
	toks := scanAll(src)
	got := toks[:len(toks)-1]
	if len(got) != len(want) {
		t.Fatalf("%q scanned to %d tokens, want %d: %v", src, len(got), len(want), got)
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("%q token %d = %s, want %s", src, i, got[i].Kind, want[i])
		}
	}
}

func TestSingleCharacterTokens(t *testing.T) {
	expectKinds(t, "(){},.-+;/*?:",
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenComma, TokenDot, TokenMinus, TokenPlus, TokenSemicolon,
		TokenSlash, TokenStar, TokenQuestion, TokenColon)
}

func TestOneOrTwoCharacterOperators(t *testing.T) {
	expectKinds(t, "! != = == > >= < <=",
		TokenBang, TokenBangEqual, TokenEqual, TokenEqualEqual,
		TokenGreater, TokenGreaterEqual, TokenLess, TokenLessEqual)
}

func TestKeywords(t *testing.T) {
	cases := map[string]TokenKind{
		"and": TokenAnd, "class": TokenClass, "else": TokenElse,
		"false": TokenFalse, "for": TokenFor, "fun": TokenFun,
		"if": TokenIf, "nil": TokenNil, "or": TokenOr,
		"print": TokenPrint, "return": TokenReturn, "super": TokenSuper,
		"this": TokenThis, "true": TokenTrue, "var": TokenVar,
		"while": TokenWhile,
	}
	for src, want := range cases {
		expectKinds(t, src, want)
	}
}

// TestKeywordPrefixesAreIdentifiers: an identifier that merely starts like
// a keyword must not be classified as one.
func TestKeywordPrefixesAreIdentifiers(t *testing.T) {
	for _, src := range []string{"android", "classy", "form", "fund", "iffy", "orchid", "variable", "whilee", "fa", "t"} {
		expectKinds(t, src, TokenIdentifier)
	}
}

func TestIdentifierCharacters(t *testing.T) {
	expectKinds(t, "_x x9 _ snake_case CamelCase",
		TokenIdentifier, TokenIdentifier, TokenIdentifier, TokenIdentifier, TokenIdentifier)
}

func TestNumberLiterals(t *testing.T) {
	toks := scanAll("123 4.5 0.001")
	for i, want := range []string{"123", "4.5", "0.001"} {
		if toks[i].Kind != TokenNumber || toks[i].Lexeme != want {
			t.Errorf("token %d = %s %q, want NUMBER %q", i, toks[i].Kind, toks[i].Lexeme, want)
		}
	}
}

// TestNumberNeedsDigitAfterDot: `1.` is a number followed by a dot, since
// the grammar requires digits on both sides of the decimal point.
func TestNumberNeedsDigitAfterDot(t *testing.T) {
	expectKinds(t, "1.", TokenNumber, TokenDot)
	expectKinds(t, "1.foo", TokenNumber, TokenDot, TokenIdentifier)
}

func TestStringLiteral(t *testing.T) {
	toks := scanAll(`"hello world"`)
	if toks[0].Kind != TokenString || toks[0].Lexeme != `"hello world"` {
		t.Fatalf("got %s %q", toks[0].Kind, toks[0].Lexeme)
	}
}

// TestStringSpansLines: newlines are legal inside string literals and still
// advance the line counter for the tokens after.
func TestStringSpansLines(t *testing.T) {
	toks := scanAll("\"a\nb\"\nx")
	if toks[0].Kind != TokenString {
		t.Fatalf("first token = %s, want STRING", toks[0].Kind)
	}
	if toks[0].Line != 2 {
		t.Errorf("string token line = %d, want 2 (line of the closing quote)", toks[0].Line)
	}
	if toks[1].Kind != TokenIdentifier || toks[1].Line != 3 {
		t.Errorf("identifier after = %s on line %d, want IDENTIFIER on 3", toks[1].Kind, toks[1].Line)
	}
}

func TestUnterminatedString(t *testing.T) {
	toks := scanAll(`"oops`)
	if toks[0].Kind != TokenError {
		t.Fatalf("got %s, want ERROR", toks[0].Kind)
	}
	if toks[0].Lexeme != "Unterminated string." {
		t.Errorf("message = %q", toks[0].Lexeme)
	}
}

func TestUnexpectedCharacter(t *testing.T) {
	toks := scanAll("@")
	if toks[0].Kind != TokenError || toks[0].Lexeme != "Unexpected character." {
		t.Fatalf("got %s %q", toks[0].Kind, toks[0].Lexeme)
	}
}

// TestLineCommentsAreSkipped: // runs to end of line and produces nothing.
func TestLineCommentsAreSkipped(t *testing.T) {
	expectKinds(t, "// nothing here\nprint // trailing\n;", TokenPrint, TokenSemicolon)
	// A lone slash is still division.
	expectKinds(t, "1 / 2", TokenNumber, TokenSlash, TokenNumber)
}

func TestLineTracking(t *testing.T) {
	toks := scanAll("a\nb\n\nc")
	wantLines := []int{1, 2, 4}
	for i, want := range wantLines {
		if toks[i].Line != want {
			t.Errorf("token %d on line %d, want %d", i, toks[i].Line, want)
		}
	}
	if eof := toks[len(toks)-1]; eof.Line != 4 {
		t.Errorf("EOF on line %d, want 4", eof.Line)
	}
}

// TestLazyScanning: the scanner hands out one token per call and does not
// look past what it needs, so a later error is not observed early.
func TestLazyScanning(t *testing.T) {
	s := New("ok @")
	first := s.NextToken()
	if first.Kind != TokenIdentifier {
		t.Fatalf("first = %s, want IDENTIFIER", first.Kind)
	}
	second := s.NextToken()
	if second.Kind != TokenError {
		t.Fatalf("second = %s, want ERROR", second.Kind)
	}
}
