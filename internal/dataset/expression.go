package dataset

import (
	"fmt"
	"strings"
	"unicode"
)

var expressionKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "like": true, "in": true,
	"is": true, "null": true, "true": true, "false": true,
}

// ExpressionReferences returns the column names an expression refers to
// directly. Function names, keywords, literals and Parent./Child. member
// accesses are skipped.
func ExpressionReferences(expr string) ([]string, error) {
	var refs []string
	runes := []rune(expr)
	skipMember := false

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '#':
			// String and date literals; a doubled quote escapes itself.
			end := i + 1
			for ; end < len(runes); end++ {
				if runes[end] == r {
					if r == '\'' && end+1 < len(runes) && runes[end+1] == '\'' {
						end++
						continue
					}
					break
				}
			}
			if end >= len(runes) {
				return nil, fmt.Errorf("dataset: unterminated literal in expression %q", expr)
			}
			i = end + 1
		case r == '[':
			var b strings.Builder
			end := i + 1
			for ; end < len(runes) && runes[end] != ']'; end++ {
				if runes[end] == '\\' && end+1 < len(runes) {
					end++
				}
				b.WriteRune(runes[end])
			}
			if end >= len(runes) {
				return nil, fmt.Errorf("dataset: unterminated column reference in expression %q", expr)
			}
			if !skipMember {
				refs = append(refs, b.String())
			}
			skipMember = false
			i = end + 1
		case unicode.IsDigit(r):
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			next := nextNonSpace(runes, i)
			lower := strings.ToLower(word)
			switch {
			case skipMember:
				skipMember = false
			case (lower == "parent" || lower == "child") && (next == '.' || next == '('):
				if next == '(' {
					// Parent(relationName).Column
					for i < len(runes) && runes[i] != ')' {
						i++
					}
					if i >= len(runes) {
						return nil, fmt.Errorf("dataset: unterminated relation name in expression %q", expr)
					}
					i++
				}
				skipMember = true
			case next == '(' || expressionKeywords[lower]:
			default:
				refs = append(refs, word)
			}
		case r == '.':
			i++
		default:
			skipMember = false
			i++
		}
	}
	return refs, nil
}

func nextNonSpace(runes []rune, i int) rune {
	for ; i < len(runes); i++ {
		if !unicode.IsSpace(runes[i]) {
			return runes[i]
		}
	}
	return 0
}

// checkExpression verifies every referenced column exists in t.
func (t *Table) checkExpression(owner *Column, expr string) error {
	refs, err := ExpressionReferences(expr)
	if err != nil {
		return err
	}
	for _, name := range refs {
		ref := t.Column(name)
		if ref == nil {
			return fmt.Errorf("dataset: expression on column %q references unknown column %q", owner.Name, name)
		}
		if ref == owner {
			return fmt.Errorf("dataset: expression on column %q references itself", owner.Name)
		}
	}
	return nil
}
