package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kbvault/kbvault/internal/envelope"
	"github.com/kbvault/kbvault/internal/errors"
)

// Leaf operators of the filter grammar.
const (
	OpEq    = "=="
	OpNeq   = "!="
	OpGt    = ">"
	OpLt    = "<"
	OpGte   = ">="
	OpLte   = "<="
	OpIn    = "in"
	OpNotIn = "not in"
)

// Boolean combinators.
const (
	CombAnd = "AND"
	CombOr  = "OR"
	CombNot = "NOT"
)

// fieldKind describes how a payload field is indexed.
type fieldKind int

const (
	kindKeyword fieldKind = iota
	kindBool
	kindInteger
)

// indexedFields is the payload index schema. Filter predicates over any
// other field are rejected with IndexRequired; the store layer creates
// exactly these indexes at startup.
var indexedFields = map[string]fieldKind{
	PayloadKey + "." + envelope.FieldDocID:        kindKeyword,
	PayloadKey + "." + envelope.FieldCategory:     kindKeyword,
	PayloadKey + "." + envelope.FieldStatus:       kindKeyword,
	PayloadKey + "." + envelope.FieldFilePath:     kindKeyword,
	PayloadKey + "." + envelope.FieldHashContent:  kindKeyword,
	PayloadKey + "." + envelope.FieldMetadataHash: kindKeyword,
	PayloadKey + "." + envelope.FieldChunkID:      kindKeyword,
	PayloadKey + "." + envelope.FieldParentDocID:  kindKeyword,
	PayloadKey + "." + envelope.FieldVersion:      kindKeyword,
	PayloadKey + "." + envelope.FieldSource:       kindKeyword,
	PayloadKey + "." + envelope.FieldRepo:         kindKeyword,
	PayloadKey + "." + envelope.FieldTags:         kindKeyword,
	PayloadKey + "." + envelope.FieldIsChunk:      kindBool,
	PayloadKey + "." + envelope.FieldChunkIndex:   kindInteger,
	PayloadKey + "." + envelope.FieldTotalChunks:  kindInteger,
}

// IndexedFieldNames returns the indexed field paths with their kinds.
func IndexedFieldNames() map[string]string {
	out := make(map[string]string, len(indexedFields))
	for f, k := range indexedFields {
		switch k {
		case kindBool:
			out[f] = "bool"
		case kindInteger:
			out[f] = "integer"
		default:
			out[f] = "keyword"
		}
	}
	return out
}

// Filter is a predicate tree. A leaf has Field/Operator/Value set; an
// internal node has Op and Conditions.
type Filter struct {
	// Leaf form.
	Field    string
	Operator string
	Value    any

	// Node form.
	Op         string
	Conditions []*Filter
}

// IsLeaf reports whether the filter is a leaf condition.
func (f *Filter) IsLeaf() bool {
	return f != nil && f.Field != ""
}

// Eq builds an equality leaf on a meta-relative field.
func Eq(field string, value any) *Filter {
	return &Filter{Field: metaPath(field), Operator: OpEq, Value: value}
}

// Neq builds an inequality leaf on a meta-relative field.
func Neq(field string, value any) *Filter {
	return &Filter{Field: metaPath(field), Operator: OpNeq, Value: value}
}

// In builds a membership leaf on a meta-relative field.
func In(field string, values ...any) *Filter {
	return &Filter{Field: metaPath(field), Operator: OpIn, Value: values}
}

// And combines conditions conjunctively. Nil conditions are dropped;
// a single condition collapses to itself.
func And(conds ...*Filter) *Filter {
	kept := make([]*Filter, 0, len(conds))
	for _, c := range conds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Filter{Op: CombAnd, Conditions: kept}
}

// Or combines conditions disjunctively.
func Or(conds ...*Filter) *Filter {
	kept := make([]*Filter, 0, len(conds))
	for _, c := range conds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Filter{Op: CombOr, Conditions: kept}
}

// Not negates a condition.
func Not(cond *Filter) *Filter {
	if cond == nil {
		return nil
	}
	return &Filter{Op: CombNot, Conditions: []*Filter{cond}}
}

// metaPath prefixes a bare envelope field with the payload key. Fields
// already carrying the full dotted path pass through unchanged.
func metaPath(field string) string {
	if strings.Contains(field, ".") {
		return field
	}
	return PayloadKey + "." + field
}

// ParseJSON parses a caller-supplied filter document. The grammar:
//
//	{"field": "meta.category", "operator": "==", "value": "design_doc"}
//	{"operator": "AND", "conditions": [...]}
//
// Fields must use the full dotted payload path and must be indexed;
// anything else fails with IndexRequired. Malformed shapes fail with
// InvalidInput.
func ParseJSON(raw json.RawMessage) (*Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "malformed filter", err)
	}
	if len(doc) == 0 {
		return nil, nil
	}
	return parseNode(doc)
}

func parseNode(doc map[string]any) (*Filter, error) {
	op, _ := doc["operator"].(string)

	switch strings.ToUpper(op) {
	case CombAnd, CombOr, CombNot:
		rawConds, ok := doc["conditions"].([]any)
		if !ok || len(rawConds) == 0 {
			return nil, errors.InvalidInputf("combinator %s requires a non-empty conditions array", op)
		}
		if strings.ToUpper(op) == CombNot && len(rawConds) != 1 {
			return nil, errors.InvalidInput("combinator NOT takes exactly one condition")
		}
		node := &Filter{Op: strings.ToUpper(op)}
		for _, rc := range rawConds {
			child, ok := rc.(map[string]any)
			if !ok {
				return nil, errors.InvalidInput("filter conditions must be objects")
			}
			parsed, err := parseNode(child)
			if err != nil {
				return nil, err
			}
			node.Conditions = append(node.Conditions, parsed)
		}
		return node, nil
	}

	// Leaf.
	field, _ := doc["field"].(string)
	if field == "" {
		return nil, errors.InvalidInput("filter leaf requires a field")
	}
	value, hasValue := doc["value"]
	if !hasValue {
		return nil, errors.InvalidInputf("filter on %s requires a value", field)
	}

	leaf := &Filter{Field: field, Operator: op, Value: value}
	if err := leaf.validateLeaf(); err != nil {
		return nil, err
	}
	return leaf, nil
}

// validateLeaf checks operator shape and index coverage.
func (f *Filter) validateLeaf() error {
	kind, ok := indexedFields[f.Field]
	if !ok {
		return errors.IndexRequired(f.Field)
	}

	switch f.Operator {
	case OpEq, OpNeq:
		return nil
	case OpGt, OpLt, OpGte, OpLte:
		if kind != kindInteger {
			return errors.InvalidInputf("range operator %s requires a numeric field, %s is %s",
				f.Operator, f.Field, kindName(kind))
		}
		if _, ok := toFloat(f.Value); !ok {
			return errors.InvalidInputf("range operator %s requires a numeric value", f.Operator)
		}
		return nil
	case OpIn, OpNotIn:
		if _, ok := f.Value.([]any); !ok {
			return errors.InvalidInputf("operator %q requires an array value", f.Operator)
		}
		return nil
	default:
		return errors.InvalidInputf("unknown filter operator %q", f.Operator)
	}
}

// Validate walks the whole tree, validating every leaf. Programmatically
// built filters go through the same checks as parsed ones.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.IsLeaf() {
		return f.validateLeaf()
	}
	for _, c := range f.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func kindName(k fieldKind) string {
	switch k {
	case kindBool:
		return "bool"
	case kindInteger:
		return "integer"
	default:
		return "keyword"
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// String renders the filter for logs.
func (f *Filter) String() string {
	if f == nil {
		return "<all>"
	}
	if f.IsLeaf() {
		return fmt.Sprintf("%s %s %v", f.Field, f.Operator, f.Value)
	}
	parts := make([]string, len(f.Conditions))
	for i, c := range f.Conditions {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", f.Op, strings.Join(parts, ", "))
}
