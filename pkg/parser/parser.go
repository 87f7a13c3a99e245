// Package parser implements lisb's recursive-descent parser: tokens to a
// value tree built from Cons, atoms, and Null, with grammar validation for
// each special form. Grounded in structure on
// pkg/parser/parser.go's two-token-lookahead, error-accumulation style
// from the teacher repo, and in grammar/semantics on spec.md §4.2 and
// original_source/src/parser/parser.c.
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/lisb/pkg/gc"
	"github.com/kristofer/lisb/pkg/lexer"
	"github.com/kristofer/lisb/pkg/value"
)

// Error is a parse failure: it carries the offending token's source
// position and lexeme plus a message, and terminates parsing of the
// current top-level form only.
type Error struct {
	Line, Col int
	Lexeme    string
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d:%d] at '%s': %s", e.Line, e.Col, e.Lexeme, e.Message)
}

// Parser turns a token stream into one value tree per call to ParseForm.
// It keeps a two-token window (this, lookahead) to distinguish the head
// of a form without unbounded backtracking.
type Parser struct {
	lex     *lexer.Lexer
	heap    *gc.Heap
	this    lexer.Token
	lookahd lexer.Token
}

// New returns a parser reading src and allocating tree nodes via heap.
func New(src string, heap *gc.Heap) *Parser {
	p := &Parser{lex: lexer.New(src), heap: heap}
	p.this = p.lex.Next()
	p.lookahd = p.lex.Next()
	return p
}

func (p *Parser) advance() lexer.Token {
	tok := p.this
	p.this = p.lookahd
	p.lookahd = p.lex.Next()
	return tok
}

func (p *Parser) check(k lexer.TokenKind) bool { return p.this.Kind == k }

func (p *Parser) match(k lexer.TokenKind) bool {
	if !p.check(k) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(k lexer.TokenKind, msg string) (lexer.Token, error) {
	if !p.check(k) {
		return lexer.Token{}, p.errorAt(p.this, msg)
	}
	return p.advance(), nil
}

func (p *Parser) errorAt(tok lexer.Token, msg string) error {
	return &Error{Line: tok.Line, Col: tok.Col, Lexeme: tok.Lexeme, Message: msg}
}

// AtEOF reports whether the token stream is exhausted.
func (p *Parser) AtEOF() bool { return p.check(lexer.Eof) }

// ParseForm parses and returns the next top-level form (a definition or
// an expression). ok is false at end of input; err is non-nil on a
// grammar violation, in which case the returned value is Void.
func (p *Parser) ParseForm() (v value.Value, ok bool, err error) {
	if p.AtEOF() {
		return value.VoidVal(), false, nil
	}
	form, err := p.parseForm()
	if err != nil {
		return value.VoidVal(), true, err
	}
	return form, true, nil
}

func (p *Parser) parseForm() (value.Value, error) {
	if p.check(lexer.LParen) && p.lookahd.Kind == lexer.Define {
		return p.parseDefinition()
	}
	return p.parseExpression()
}

func (p *Parser) parseDefinition() (value.Value, error) {
	p.advance() // (
	p.advance() // define
	nameTok, err := p.expect(lexer.Symbol, "expected a variable name after 'define'")
	if err != nil {
		return value.VoidVal(), err
	}
	name := value.ObjVal(p.heap.NewSymbol(nameTok.Lexeme, lexer.Symbol, nameTok.Line, nameTok.Col))
	valExpr, err := p.parseExpression()
	if err != nil {
		return value.VoidVal(), err
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after define"); err != nil {
		return value.VoidVal(), err
	}
	head := value.ObjVal(p.heap.NewSymbol("define", lexer.Define, nameTok.Line, nameTok.Col))
	return list3(p.heap, head, name, valExpr), nil
}

func (p *Parser) parseExpression() (value.Value, error) {
	switch p.this.Kind {
	case lexer.Number:
		return p.parseNumber()
	case lexer.String:
		return p.parseString()
	case lexer.True:
		p.advance()
		return value.BoolVal(true), nil
	case lexer.False:
		p.advance()
		return value.BoolVal(false), nil
	case lexer.Symbol:
		tok := p.advance()
		return value.ObjVal(p.heap.NewSymbol(tok.Lexeme, lexer.Symbol, tok.Line, tok.Col)), nil
	case lexer.LParen:
		return p.parseCompound()
	case lexer.Define, lexer.Lambda, lexer.If, lexer.Set, lexer.Let, lexer.Begin, lexer.Quote, lexer.CallCc:
		return value.VoidVal(), p.errorAt(p.this, "reserved word used where a value was expected")
	case lexer.Fail:
		return value.VoidVal(), p.errorAt(p.this, p.this.Lexeme)
	default:
		return value.VoidVal(), p.errorAt(p.this, "expected an expression")
	}
}

func (p *Parser) parseNumber() (value.Value, error) {
	tok := p.advance()
	f, err := strconv.ParseFloat(tok.Lexeme, 64)
	if err != nil {
		return value.VoidVal(), p.errorAt(tok, "invalid number literal")
	}
	return value.NumberVal(f), nil
}

func (p *Parser) parseString() (value.Value, error) {
	tok := p.advance()
	// Strip the surrounding quotes; the dialect has no escape sequences.
	body := tok.Lexeme
	if len(body) >= 2 {
		body = body[1 : len(body)-1]
	}
	return value.ObjVal(p.heap.NewString(body)), nil
}

func (p *Parser) parseCompound() (value.Value, error) {
	switch p.lookahd.Kind {
	case lexer.Quote:
		return p.parseQuote()
	case lexer.Lambda:
		return p.parseLambda()
	case lexer.Let:
		return p.parseLet()
	case lexer.Begin:
		return p.parseBegin()
	case lexer.If:
		return p.parseIf()
	case lexer.Set:
		return p.parseSet()
	case lexer.CallCc:
		return p.parseCallCc()
	default:
		return p.parseApplication()
	}
}

func (p *Parser) parseQuote() (value.Value, error) {
	lp := p.advance() // (
	p.advance()        // quote
	datum, err := p.parseDatum()
	if err != nil {
		return value.VoidVal(), err
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after quote"); err != nil {
		return value.VoidVal(), err
	}
	head := value.ObjVal(p.heap.NewSymbol("quote", lexer.Quote, lp.Line, lp.Col))
	return list2(p.heap, head, datum), nil
}

func (p *Parser) parseLambda() (value.Value, error) {
	lp := p.advance() // (
	p.advance()        // lambda
	formals, err := p.parseFormals()
	if err != nil {
		return value.VoidVal(), err
	}
	body, err := p.parseBody()
	if err != nil {
		return value.VoidVal(), err
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after lambda body"); err != nil {
		return value.VoidVal(), err
	}
	head := value.ObjVal(p.heap.NewSymbol("lambda", lexer.Lambda, lp.Line, lp.Col))
	return cons(p.heap, head, cons(p.heap, formals, body)), nil
}

// parseFormals accepts either a bare symbol or a parenthesized list of
// symbols. A bare symbol is not a variadic/rest parameter: compileLambda
// treats it as a single fixed-arity formal, the same as writing `(x)`,
// matching original_source's parser (see DESIGN.md).
func (p *Parser) parseFormals() (value.Value, error) {
	if p.check(lexer.Symbol) {
		tok := p.advance()
		return value.ObjVal(p.heap.NewSymbol(tok.Lexeme, lexer.Symbol, tok.Line, tok.Col)), nil
	}
	if _, err := p.expect(lexer.LParen, "expected a formals list"); err != nil {
		return value.VoidVal(), err
	}
	var names []value.Value
	for !p.check(lexer.RParen) {
		tok, err := p.expect(lexer.Symbol, "expected a parameter name")
		if err != nil {
			return value.VoidVal(), err
		}
		names = append(names, value.ObjVal(p.heap.NewSymbol(tok.Lexeme, lexer.Symbol, tok.Line, tok.Col)))
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after formals"); err != nil {
		return value.VoidVal(), err
	}
	return listOf(p.heap, names), nil
}

// parseBody parses `definition* expression+` and returns it as a proper
// list of forms.
func (p *Parser) parseBody() (value.Value, error) {
	var forms []value.Value
	for p.check(lexer.LParen) && p.lookahd.Kind == lexer.Define {
		def, err := p.parseDefinition()
		if err != nil {
			return value.VoidVal(), err
		}
		forms = append(forms, def)
	}
	if p.check(lexer.RParen) {
		return value.VoidVal(), p.errorAt(p.this, "expected at least one expression in body")
	}
	for {
		expr, err := p.parseExpression()
		if err != nil {
			return value.VoidVal(), err
		}
		forms = append(forms, expr)
		if p.check(lexer.RParen) {
			break
		}
	}
	return listOf(p.heap, forms), nil
}

func (p *Parser) parseLet() (value.Value, error) {
	lp := p.advance() // (
	p.advance()        // let
	bindings, err := p.parseBindings()
	if err != nil {
		return value.VoidVal(), err
	}
	body, err := p.parseBody()
	if err != nil {
		return value.VoidVal(), err
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after let body"); err != nil {
		return value.VoidVal(), err
	}
	head := value.ObjVal(p.heap.NewSymbol("let", lexer.Let, lp.Line, lp.Col))
	return cons(p.heap, head, cons(p.heap, bindings, body)), nil
}

func (p *Parser) parseBindings() (value.Value, error) {
	if _, err := p.expect(lexer.LParen, "expected a bindings list"); err != nil {
		return value.VoidVal(), err
	}
	var bindings []value.Value
	for !p.check(lexer.RParen) {
		if _, err := p.expect(lexer.LParen, "expected '(' to begin a binding"); err != nil {
			return value.VoidVal(), err
		}
		nameTok, err := p.expect(lexer.Symbol, "expected a variable name in binding")
		if err != nil {
			return value.VoidVal(), err
		}
		name := value.ObjVal(p.heap.NewSymbol(nameTok.Lexeme, lexer.Symbol, nameTok.Line, nameTok.Col))
		init, err := p.parseExpression()
		if err != nil {
			return value.VoidVal(), err
		}
		if _, err := p.expect(lexer.RParen, "expected ')' after binding"); err != nil {
			return value.VoidVal(), err
		}
		bindings = append(bindings, list2(p.heap, name, init))
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after bindings"); err != nil {
		return value.VoidVal(), err
	}
	return listOf(p.heap, bindings), nil
}

func (p *Parser) parseBegin() (value.Value, error) {
	lp := p.advance() // (
	p.advance()        // begin
	if p.check(lexer.RParen) {
		return value.VoidVal(), p.errorAt(p.this, "expected at least one expression in begin")
	}
	var exprs []value.Value
	for !p.check(lexer.RParen) {
		e, err := p.parseExpression()
		if err != nil {
			return value.VoidVal(), err
		}
		exprs = append(exprs, e)
	}
	p.advance() // )
	head := value.ObjVal(p.heap.NewSymbol("begin", lexer.Begin, lp.Line, lp.Col))
	return cons(p.heap, head, listOf(p.heap, exprs)), nil
}

func (p *Parser) parseIf() (value.Value, error) {
	lp := p.advance() // (
	p.advance()        // if
	cond, err := p.parseExpression()
	if err != nil {
		return value.VoidVal(), err
	}
	then, err := p.parseExpression()
	if err != nil {
		return value.VoidVal(), err
	}
	alt, err := p.parseExpression()
	if err != nil {
		return value.VoidVal(), err
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after if"); err != nil {
		return value.VoidVal(), err
	}
	head := value.ObjVal(p.heap.NewSymbol("if", lexer.If, lp.Line, lp.Col))
	return list4(p.heap, head, cond, then, alt), nil
}

func (p *Parser) parseSet() (value.Value, error) {
	lp := p.advance() // (
	p.advance()        // set!
	nameTok, err := p.expect(lexer.Symbol, "expected a variable name after 'set!'")
	if err != nil {
		return value.VoidVal(), err
	}
	name := value.ObjVal(p.heap.NewSymbol(nameTok.Lexeme, lexer.Symbol, nameTok.Line, nameTok.Col))
	rhs, err := p.parseExpression()
	if err != nil {
		return value.VoidVal(), err
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after set!"); err != nil {
		return value.VoidVal(), err
	}
	head := value.ObjVal(p.heap.NewSymbol("set!", lexer.Set, lp.Line, lp.Col))
	return list3(p.heap, head, name, rhs), nil
}

func (p *Parser) parseCallCc() (value.Value, error) {
	lp := p.advance() // (
	p.advance()        // call/cc
	arg, err := p.parseExpression()
	if err != nil {
		return value.VoidVal(), err
	}
	if _, err := p.expect(lexer.RParen, "expected ')' after call/cc"); err != nil {
		return value.VoidVal(), err
	}
	head := value.ObjVal(p.heap.NewSymbol("call/cc", lexer.CallCc, lp.Line, lp.Col))
	return list2(p.heap, head, arg), nil
}

func (p *Parser) parseApplication() (value.Value, error) {
	p.advance() // (
	callee, err := p.parseExpression()
	if err != nil {
		return value.VoidVal(), err
	}
	var args []value.Value
	for !p.check(lexer.RParen) {
		arg, err := p.parseExpression()
		if err != nil {
			return value.VoidVal(), err
		}
		args = append(args, arg)
		if len(args) > 255 {
			return value.VoidVal(), p.errorAt(p.this, "too many arguments (max 255)")
		}
	}
	p.advance() // )
	return cons(p.heap, callee, listOf(p.heap, args)), nil
}

// parseDatum parses quoted data: atoms, proper lists, and dotted pairs.
// Reserved-keyword symbols are valid ordinary data here, unlike in
// parseExpression.
func (p *Parser) parseDatum() (value.Value, error) {
	switch p.this.Kind {
	case lexer.Number:
		return p.parseNumber()
	case lexer.String:
		return p.parseString()
	case lexer.True:
		p.advance()
		return value.BoolVal(true), nil
	case lexer.False:
		p.advance()
		return value.BoolVal(false), nil
	case lexer.LParen:
		return p.parseDatumList()
	case lexer.Fail:
		return value.VoidVal(), p.errorAt(p.this, p.this.Lexeme)
	case lexer.RParen, lexer.Dot, lexer.Eof:
		return value.VoidVal(), p.errorAt(p.this, "expected a datum")
	default:
		// Any symbol-shaped token, reserved or not, is ordinary data.
		tok := p.advance()
		return value.ObjVal(p.heap.NewSymbol(tok.Lexeme, lexer.Symbol, tok.Line, tok.Col)), nil
	}
}

func (p *Parser) parseDatumList() (value.Value, error) {
	p.advance() // (
	if p.check(lexer.RParen) {
		p.advance()
		return value.NullVal(), nil
	}
	var items []value.Value
	for !p.check(lexer.RParen) && !p.check(lexer.Dot) {
		d, err := p.parseDatum()
		if err != nil {
			return value.VoidVal(), err
		}
		items = append(items, d)
	}
	tail := value.NullVal()
	if p.match(lexer.Dot) {
		d, err := p.parseDatum()
		if err != nil {
			return value.VoidVal(), err
		}
		tail = d
	}
	if _, err := p.expect(lexer.RParen, "expected ')' to close quoted list"); err != nil {
		return value.VoidVal(), err
	}
	return listWithTail(p.heap, items, tail), nil
}

// --- cons-tree construction helpers ---

func cons(h *gc.Heap, car, cdr value.Value) value.Value {
	return value.ObjVal(h.NewCons(car, cdr))
}

func list2(h *gc.Heap, a, b value.Value) value.Value {
	return cons(h, a, cons(h, b, value.NullVal()))
}

func list3(h *gc.Heap, a, b, c value.Value) value.Value {
	return cons(h, a, cons(h, b, cons(h, c, value.NullVal())))
}

func list4(h *gc.Heap, a, b, c, d value.Value) value.Value {
	return cons(h, a, cons(h, b, cons(h, c, cons(h, d, value.NullVal()))))
}

func listOf(h *gc.Heap, items []value.Value) value.Value {
	return listWithTail(h, items, value.NullVal())
}

func listWithTail(h *gc.Heap, items []value.Value, tail value.Value) value.Value {
	result := tail
	for i := len(items) - 1; i >= 0; i-- {
		result = cons(h, items[i], result)
	}
	return result
}
