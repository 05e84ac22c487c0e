package core

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	pep440 "github.com/aquasecurity/go-pep440-version"

	"conda-pypi/internal/shared"
)

// EvaluateMarker evaluates a PEP 508 environment marker. The marker is
// true when it holds for the empty extra or for any of extras.
func EvaluateMarker(marker string, env map[string]string, extras []string) (bool, error) {
	tokens, err := tokenizeMarker(marker)
	if err != nil {
		return false, err
	}
	candidates := append([]string{""}, extras...)
	for _, extra := range candidates {
		p := markerParser{tokens: tokens, env: env, extra: shared.NormalizePipName(extra)}
		ok, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if p.pos != len(p.tokens) {
			return false, markerError(marker, "unexpected trailing tokens")
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type markerTokenKind int

const (
	tokenIdent markerTokenKind = iota
	tokenString
	tokenOp
	tokenLParen
	tokenRParen
)

type markerToken struct {
	kind  markerTokenKind
	value string
}

var markerOps = []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">"}

func tokenizeMarker(marker string) ([]markerToken, error) {
	var tokens []markerToken
	for i := 0; i < len(marker); {
		ch := marker[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case ch == '(':
			tokens = append(tokens, markerToken{kind: tokenLParen})
			i++
		case ch == ')':
			tokens = append(tokens, markerToken{kind: tokenRParen})
			i++
		case ch == '"' || ch == '\'':
			end := strings.IndexByte(marker[i+1:], ch)
			if end < 0 {
				return nil, markerError(marker, "unterminated string")
			}
			tokens = append(tokens, markerToken{kind: tokenString, value: marker[i+1 : i+1+end]})
			i += end + 2
		case strings.IndexByte("=!<>~", ch) >= 0:
			matched := ""
			for _, op := range markerOps {
				if strings.HasPrefix(marker[i:], op) {
					matched = op
					break
				}
			}
			if matched == "" {
				return nil, markerError(marker, "invalid operator")
			}
			tokens = append(tokens, markerToken{kind: tokenOp, value: matched})
			i += len(matched)
		default:
			start := i
			for i < len(marker) && isMarkerIdentByte(marker[i]) {
				i++
			}
			if start == i {
				return nil, markerError(marker, fmt.Sprintf("unexpected character %q", ch))
			}
			word := marker[start:i]
			switch word {
			case "in", "not":
				if word == "not" {
					rest := strings.TrimLeft(marker[i:], " \t")
					if !strings.HasPrefix(rest, "in") {
						return nil, markerError(marker, "expected 'in' after 'not'")
					}
					i = len(marker) - len(rest) + 2
					word = "not in"
				}
				tokens = append(tokens, markerToken{kind: tokenOp, value: word})
			default:
				tokens = append(tokens, markerToken{kind: tokenIdent, value: word})
			}
		}
	}
	return tokens, nil
}

func isMarkerIdentByte(ch byte) bool {
	return ch == '_' || ch == '.' || ch == '-' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

type markerParser struct {
	tokens []markerToken
	pos    int
	env    map[string]string
	extra  string
}

func (p *markerParser) peek() (markerToken, bool) {
	if p.pos >= len(p.tokens) {
		return markerToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *markerParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokenIdent || tok.value != "or" {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
}

func (p *markerParser) parseAnd() (bool, error) {
	left, err := p.parseExpr()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokenIdent || tok.value != "and" {
			return left, nil
		}
		p.pos++
		right, err := p.parseExpr()
		if err != nil {
			return false, err
		}
		left = left && right
	}
}

func (p *markerParser) parseExpr() (bool, error) {
	tok, ok := p.peek()
	if !ok {
		return false, markerError("", "unexpected end of marker")
	}
	if tok.kind == tokenLParen {
		p.pos++
		value, err := p.parseOr()
		if err != nil {
			return false, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokenRParen {
			return false, markerError("", "missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}
	lhs, lhsVar, err := p.parseValue()
	if err != nil {
		return false, err
	}
	opTok, ok := p.peek()
	if !ok || opTok.kind != tokenOp {
		return false, markerError("", "expected comparison operator")
	}
	p.pos++
	rhs, rhsVar, err := p.parseValue()
	if err != nil {
		return false, err
	}
	if lhsVar == "extra" || rhsVar == "extra" {
		lhs = shared.NormalizePipName(lhs)
		rhs = shared.NormalizePipName(rhs)
	}
	return compareMarkerValues(lhs, opTok.value, rhs), nil
}

// parseValue returns the resolved value and, for variables, its name.
func (p *markerParser) parseValue() (string, string, error) {
	tok, ok := p.peek()
	if !ok {
		return "", "", markerError("", "unexpected end of marker")
	}
	p.pos++
	switch tok.kind {
	case tokenString:
		return tok.value, "", nil
	case tokenIdent:
		name := strings.ReplaceAll(tok.value, ".", "_")
		if name == "extra" {
			return p.extra, name, nil
		}
		value, found := p.env[name]
		if !found {
			return "", "", markerError("", fmt.Sprintf("unknown marker variable %s", tok.value))
		}
		return value, name, nil
	default:
		return "", "", markerError("", "expected marker value")
	}
}

func compareMarkerValues(lhs string, op string, rhs string) bool {
	switch op {
	case "in":
		return strings.Contains(rhs, lhs)
	case "not in":
		return !strings.Contains(rhs, lhs)
	case "===":
		return lhs == rhs
	}
	if version, err := pep440.Parse(lhs); err == nil {
		if spec, err := pep440.NewSpecifiers(op+rhs, pep440.WithPreRelease(true)); err == nil {
			return spec.Check(version)
		}
	}
	switch op {
	case "==":
		return lhs == rhs
	case "!=":
		return lhs != rhs
	case "<":
		return lhs < rhs
	case "<=":
		return lhs <= rhs
	case ">":
		return lhs > rhs
	case ">=":
		return lhs >= rhs
	default:
		return false
	}
}

func markerError(marker string, reason string) error {
	msg := "invalid marker: " + reason
	if marker != "" {
		msg += ": " + marker
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}
