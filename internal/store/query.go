package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tendermint/aquarius/internal/ddo"
)

const defaultSearchSize = 10

// Query is the subset of the search DSL understood by the embedded store:
// match_all, term, terms, match, ids, query_string and bool (must, filter,
// should, must_not), with from and size paging.
type Query struct {
	root clause
	from int
	size int
}

type clause interface {
	match(d map[string]interface{}) bool
}

// ParseQuery decodes a search request body. An empty body matches
// everything.
func ParseQuery(body []byte) (*Query, error) {
	q := &Query{root: matchAll{}, size: defaultSearchSize}
	if len(bytes.TrimSpace(body)) == 0 {
		return q, nil
	}

	var req struct {
		Query json.RawMessage `json:"query"`
		From  *int            `json:"from"`
		Size  *int            `json:"size"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	if req.From != nil {
		if *req.From < 0 {
			return nil, errors.New("from must be non-negative")
		}
		q.from = *req.From
	}
	if req.Size != nil {
		if *req.Size < 0 {
			return nil, errors.New("size must be non-negative")
		}
		q.size = *req.Size
	}
	if len(req.Query) > 0 {
		root, err := parseClause(req.Query)
		if err != nil {
			return nil, err
		}
		q.root = root
	}
	return q, nil
}

// Matches reports whether d satisfies the query.
func (q *Query) Matches(d ddo.DDO) bool {
	return q.root.match(d)
}

// Response renders the page of matched documents selected by from/size.
func (q *Query) Response(index string, matched []ddo.DDO) (json.RawMessage, error) {
	var res SearchResult
	res.Hits.Total.Value = len(matched)
	res.Hits.Total.Relation = "eq"
	res.Hits.Hits = []SearchHit{}

	score := 1.0
	for i := q.from; i < len(matched) && i < q.from+q.size; i++ {
		src, err := json.Marshal(matched[i].Sanitize())
		if err != nil {
			return nil, err
		}
		res.Hits.Hits = append(res.Hits.Hits, SearchHit{
			Index:  index,
			ID:     matched[i].ID(),
			Score:  &score,
			Source: src,
		})
	}
	return json.Marshal(res)
}

func parseClause(raw json.RawMessage) (clause, error) {
	var obj map[string]json.RawMessage
	if err := unmarshalNumber(raw, &obj); err != nil {
		return nil, fmt.Errorf("query clause must be an object: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("query clause must have exactly one key, got %d", len(obj))
	}
	for kind, body := range obj {
		switch kind {
		case "match_all":
			return matchAll{}, nil
		case "term":
			return parseFieldValue(body, "value", func(f string, v interface{}) clause { return term{f, v} })
		case "match":
			return parseFieldValue(body, "query", func(f string, v interface{}) clause { return match{f, v} })
		case "terms":
			return parseTerms(body)
		case "ids":
			var ids struct {
				Values []string `json:"values"`
			}
			if err := json.Unmarshal(body, &ids); err != nil {
				return nil, fmt.Errorf("ids: %w", err)
			}
			return idsClause(ids.Values), nil
		case "query_string":
			var qs struct {
				Query        interface{} `json:"query"`
				DefaultField string      `json:"default_field"`
			}
			if err := unmarshalNumber(body, &qs); err != nil {
				return nil, fmt.Errorf("query_string: %w", err)
			}
			return queryString{field: qs.DefaultField, query: stringify(qs.Query)}, nil
		case "bool":
			return parseBool(body)
		default:
			return nil, fmt.Errorf("unsupported query type %q", kind)
		}
	}
	panic("unreachable")
}

func parseFieldValue(body json.RawMessage, inner string, mk func(string, interface{}) clause) (clause, error) {
	var obj map[string]interface{}
	if err := unmarshalNumber(body, &obj); err != nil {
		return nil, err
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("expected a single field, got %d", len(obj))
	}
	for field, v := range obj {
		if m, ok := v.(map[string]interface{}); ok {
			v = m[inner]
		}
		return mk(field, v), nil
	}
	panic("unreachable")
}

func parseTerms(body json.RawMessage) (clause, error) {
	var obj map[string][]interface{}
	if err := unmarshalNumber(body, &obj); err != nil {
		return nil, fmt.Errorf("terms: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("terms: expected a single field, got %d", len(obj))
	}
	var alternatives boolClause
	for field, values := range obj {
		for _, v := range values {
			alternatives.should = append(alternatives.should, term{field, v})
		}
	}
	return alternatives, nil
}

func parseBool(body json.RawMessage) (clause, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("bool: %w", err)
	}
	var b boolClause
	for occur, list := range raw {
		var target *[]clause
		switch occur {
		case "must", "filter":
			target = &b.must
		case "should":
			target = &b.should
		case "must_not":
			target = &b.mustNot
		case "minimum_should_match", "boost":
			continue
		default:
			return nil, fmt.Errorf("bool: unsupported occurrence %q", occur)
		}
		clauses, err := parseClauseList(list)
		if err != nil {
			return nil, err
		}
		*target = append(*target, clauses...)
	}
	return b, nil
}

// parseClauseList accepts a single clause or a list of clauses.
func parseClauseList(raw json.RawMessage) ([]clause, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		out := make([]clause, 0, len(items))
		for _, it := range items {
			c, err := parseClause(it)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	c, err := parseClause(trimmed)
	if err != nil {
		return nil, err
	}
	return []clause{c}, nil
}

func unmarshalNumber(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

//-----------------------------------------------------------------------------
// clauses

type matchAll struct{}

func (matchAll) match(map[string]interface{}) bool { return true }

type term struct {
	field string
	value interface{}
}

func (t term) match(d map[string]interface{}) bool {
	want := stringify(t.value)
	for _, v := range lookup(d, t.field) {
		if stringify(v) == want {
			return true
		}
	}
	return false
}

// match is a case-insensitive full-text match: every query token must occur
// in the field.
type match struct {
	field string
	query interface{}
}

func (m match) match(d map[string]interface{}) bool {
	return textMatch(lookup(d, m.field), stringify(m.query))
}

type idsClause []string

func (ids idsClause) match(d map[string]interface{}) bool {
	id, _ := d["id"].(string)
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

type queryString struct {
	field string
	query string
}

func (q queryString) match(d map[string]interface{}) bool {
	if q.query == "" || q.query == "*" {
		return true
	}
	var values []interface{}
	if q.field == "" || q.field == "*" {
		values = leaves(d)
	} else {
		values = lookup(d, q.field)
	}
	return textMatch(values, q.query)
}

type boolClause struct {
	must    []clause
	should  []clause
	mustNot []clause
}

func (b boolClause) match(d map[string]interface{}) bool {
	for _, c := range b.must {
		if !c.match(d) {
			return false
		}
	}
	for _, c := range b.mustNot {
		if c.match(d) {
			return false
		}
	}
	if len(b.should) == 0 {
		return true
	}
	for _, c := range b.should {
		if c.match(d) {
			return true
		}
	}
	// should clauses are optional when the query has required clauses
	return len(b.must) > 0
}

//-----------------------------------------------------------------------------
// helpers

// lookup resolves a dotted field path, flattening lists along the way.
// A trailing ".keyword" sub-field resolves to the field itself.
func lookup(d map[string]interface{}, path string) []interface{} {
	path = strings.TrimSuffix(path, ".keyword")
	current := []interface{}{d}
	for _, part := range strings.Split(path, ".") {
		var next []interface{}
		for _, c := range current {
			m := asMap(c)
			if m == nil {
				continue
			}
			v, ok := m[part]
			if !ok {
				continue
			}
			if list, isList := v.([]interface{}); isList {
				next = append(next, list...)
			} else {
				next = append(next, v)
			}
		}
		current = next
	}
	return current
}

func asMap(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case ddo.DDO:
		return t
	}
	return nil
}

func leaves(v interface{}) []interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		var out []interface{}
		for _, x := range t {
			out = append(out, leaves(x)...)
		}
		return out
	case ddo.DDO:
		return leaves(map[string]interface{}(t))
	case []interface{}:
		var out []interface{}
		for _, x := range t {
			out = append(out, leaves(x)...)
		}
		return out
	default:
		return []interface{}{v}
	}
}

func textMatch(values []interface{}, query string) bool {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return false
	}
	for _, v := range values {
		text := strings.ToLower(stringify(v))
		all := true
		for _, tok := range tokens {
			if !strings.Contains(text, tok) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%f", t), ".000000")
	default:
		return fmt.Sprint(t)
	}
}
