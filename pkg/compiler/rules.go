package compiler

import "github.com/wisplang/wisp/pkg/scanner"

// precedence orders binding strength from loosest to tightest, exactly the
// ladder spec.md §4.4 names: assignment is handled outside the table (it's
// not a binary operator), ternary sits just above it, and call/primary
// anchor the tight end.
type precedence int

const (
	precNone precedence = iota
	precAssignment       // =
	precTernary          // ?:
	precOr               // or
	precAnd              // and
	precEquality         // == !=
	precComparison       // < > <= >=
	precTerm             // + -
	precFactor           // * /
	precUnary            // ! -
	precCall             // . ()
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules [scanner.TokenEOF + 1]parseRule

func init() {
	rules[scanner.TokenLeftParen] = parseRule{prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: precCall}
	rules[scanner.TokenMinus] = parseRule{prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: precTerm}
	rules[scanner.TokenPlus] = parseRule{infix: (*Compiler).binary, precedence: precTerm}
	rules[scanner.TokenSlash] = parseRule{infix: (*Compiler).binary, precedence: precFactor}
	rules[scanner.TokenStar] = parseRule{infix: (*Compiler).binary, precedence: precFactor}
	rules[scanner.TokenBang] = parseRule{prefix: (*Compiler).unary}
	rules[scanner.TokenBangEqual] = parseRule{infix: (*Compiler).binary, precedence: precEquality}
	rules[scanner.TokenEqualEqual] = parseRule{infix: (*Compiler).binary, precedence: precEquality}
	rules[scanner.TokenGreater] = parseRule{infix: (*Compiler).binary, precedence: precComparison}
	rules[scanner.TokenGreaterEqual] = parseRule{infix: (*Compiler).binary, precedence: precComparison}
	rules[scanner.TokenLess] = parseRule{infix: (*Compiler).binary, precedence: precComparison}
	rules[scanner.TokenLessEqual] = parseRule{infix: (*Compiler).binary, precedence: precComparison}
	rules[scanner.TokenQuestion] = parseRule{infix: (*Compiler).ternary, precedence: precTernary}
	rules[scanner.TokenIdentifier] = parseRule{prefix: (*Compiler).variable}
	rules[scanner.TokenString] = parseRule{prefix: (*Compiler).stringLiteral}
	rules[scanner.TokenNumber] = parseRule{prefix: (*Compiler).number}
	rules[scanner.TokenAnd] = parseRule{infix: (*Compiler).and_, precedence: precAnd}
	rules[scanner.TokenOr] = parseRule{infix: (*Compiler).or_, precedence: precOr}
	rules[scanner.TokenFalse] = parseRule{prefix: (*Compiler).literal}
	rules[scanner.TokenTrue] = parseRule{prefix: (*Compiler).literal}
	rules[scanner.TokenNil] = parseRule{prefix: (*Compiler).literal}
}

func ruleFor(kind scanner.TokenKind) parseRule {
	if int(kind) < len(rules) {
		return rules[kind]
	}
	return parseRule{}
}
