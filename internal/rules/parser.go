package rules

import (
	"fmt"
	"math"

	"github.com/alecthomas/participle/v2"
)

/*
Compliance rules use a small expression language over response fields:

Rule        := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := AndExpr ( "AND" AndExpr )*
AndExpr     := Condition | "NOT" Condition
Condition   := Check | "(" Expr ")"
Check       := Field Op Value
Field       := "COUNT" <identifier> | <identifier>
Op          := "CONTAINS" | "<" | ">" | "="
Value       := <string> | <int>
*/

var parser = participle.MustBuild[ruleExpr](
	participle.Unquote("String"),
	participle.Union[value](stringValue{}, intValue{}),
)

func Parse(rule string) (Rule, error) {
	expr, err := parser.ParseString("", rule)
	if err != nil {
		return nil, fmt.Errorf("error parsing rule '%s': %w", rule, err)
	}

	compiled, err := expr.toRule()
	if err != nil {
		return nil, fmt.Errorf("error compiling rule '%s': %w", rule, err)
	}

	return compiled, nil
}

type ruleExpr struct {
	Expr *expr `parser:"@@"`
}

func (r *ruleExpr) toRule() (Rule, error) {
	return r.Expr.toRule()
}

type expr struct {
	Ors []*orExpr `parser:"@@ ( \"OR\" @@ )*"`
}

func (e *expr) toRule() (Rule, error) {
	if len(e.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}
	if len(e.Ors) == 1 {
		return e.Ors[0].toRule()
	}

	var rules []Rule
	for _, sub := range e.Ors {
		r, err := sub.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return &orRule{rules: rules}, nil
}

type orExpr struct {
	Ands []*condition `parser:"@@ ( \"AND\" @@ )*"`
}

func (e *orExpr) toRule() (Rule, error) {
	if len(e.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}
	if len(e.Ands) == 1 {
		return e.Ands[0].toRule()
	}

	var rules []Rule
	for _, sub := range e.Ands {
		r, err := sub.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return &andRule{rules: rules}, nil
}

type condition struct {
	Not     bool   `parser:"@\"NOT\"?"`
	Check   *check `parser:" @@"`
	SubExpr *expr  `parser:"| \"(\" @@ \")\""`
}

func (c *condition) toRule() (Rule, error) {
	var rule Rule
	var err error
	if c.Check != nil {
		rule, err = c.Check.toRule()
	} else if c.SubExpr != nil {
		rule, err = c.SubExpr.toRule()
	}
	if err != nil {
		return nil, err
	}

	if c.Not {
		rule = &notRule{rule: rule}
	}
	return rule, nil
}

type check struct {
	Field field  `parser:" @@"`
	Op    string `parser:"@(\"CONTAINS\" | \"<\" | \">\" | \"=\")"`
	Value value  `parser:"@@"`
}

func (c *check) toRule() (Rule, error) {
	if err := validField(c.Field.Name); err != nil {
		return nil, err
	}

	if c.Field.Count {
		i, ok := c.Value.(intValue)
		if !ok {
			return nil, fmt.Errorf("COUNT requires an int value to compare to")
		}

		switch c.Op {
		case "<":
			return &countRule{field: c.Field.Name, min: -1, max: i.Value}, nil
		case ">":
			return &countRule{field: c.Field.Name, min: i.Value, max: math.MaxInt}, nil
		case "=":
			return &countRule{field: c.Field.Name, min: i.Value - 1, max: i.Value + 1}, nil
		default:
			return nil, fmt.Errorf("invalid operator %s used with COUNT", c.Op)
		}
	}

	s, ok := c.Value.(stringValue)
	if !ok {
		return nil, fmt.Errorf("non-COUNT checks require a string value")
	}

	switch c.Op {
	case "CONTAINS":
		return &containsRule{field: c.Field.Name, substr: s.Value}, nil
	case "=":
		return &equalsRule{field: c.Field.Name, value: s.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s used with string value", c.Op)
	}
}

type field struct {
	Count bool   `parser:"@\"COUNT\"?"`
	Name  string `parser:"@Ident"`
}

type value interface{ value() }

type stringValue struct {
	Value string `parser:"@String"`
}

func (stringValue) value() {}

type intValue struct {
	Value int `parser:"@Int"`
}

func (intValue) value() {}
