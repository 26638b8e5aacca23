package search

import (
	"fmt"
	"strings"

	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/storage"
)

// Compile parses a query and compiles it into a storage predicate. The
// caller composes the result with the requestor's visibility predicate.
func Compile(raw string) (storage.Predicate, error) {
	q, err := parseQuery(raw)
	if err != nil {
		return storage.Predicate{}, err
	}
	return compileOr(q.Expr)
}

func compileOr(e *orExpr) (storage.Predicate, error) {
	preds := make([]storage.Predicate, 0, 1+len(e.Right))
	for _, sub := range append([]*andExpr{e.Left}, e.Right...) {
		p, err := compileAnd(sub)
		if err != nil {
			return storage.Predicate{}, err
		}
		preds = append(preds, p)
	}
	return storage.Or(preds...), nil
}

func compileAnd(e *andExpr) (storage.Predicate, error) {
	preds := make([]storage.Predicate, 0, 1+len(e.Right))
	for _, sub := range append([]*notExpr{e.Left}, e.Right...) {
		p, err := compileNot(sub)
		if err != nil {
			return storage.Predicate{}, err
		}
		preds = append(preds, p)
	}
	return storage.And(preds...), nil
}

func compileNot(e *notExpr) (storage.Predicate, error) {
	p, err := compilePrimary(e.Base)
	if err != nil {
		return storage.Predicate{}, err
	}
	if e.Not {
		return storage.Not(p), nil
	}
	return p, nil
}

func compilePrimary(e *primary) (storage.Predicate, error) {
	if e.Group != nil {
		return compileOr(e.Group)
	}
	return compileTerm(e.Term)
}

func compileTerm(t *term) (storage.Predicate, error) {
	if t.Value == nil {
		return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
			fmt.Sprintf("bare term %q: every term needs a field selector", t.Field), nil)
	}

	field, remainder, _ := strings.Cut(t.Field, ".")
	mapper, ok := fieldMappers[field]
	if !ok {
		return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
			fmt.Sprintf("field %q is not queryable", t.Field), nil)
	}
	return mapper(remainder, t.Value)
}

// mapperFunc compiles one field term. remainder carries the dotted tail of
// the field selector ("cfg.urls.host" reaches the cfg mapper with
// "urls.host").
type mapperFunc func(remainder string, v *value) (storage.Predicate, error)

var fieldMappers = map[string]mapperFunc{
	"dhash":       column("o.dhash"),
	"sha256":      column("o.sha256"),
	"type":        column("o.type"),
	"name":        column("o.file_name"),
	"size":        column("o.file_size"),
	"family":      column("o.config_family"),
	"content":     column("o.content"),
	"upload_time": column("o.upload_time"),
	"file":        subColumns(map[string]string{"name": "o.file_name", "size": "o.file_size", "sha256": "o.sha256"}),
	"config":      subColumns(map[string]string{"family": "o.config_family", "type": "o.config_type"}),
	"blob":        subColumns(map[string]string{"name": "o.blob_name", "type": "o.blob_type", "content": "o.content"}),
	"cfg":         cfgMapper,
	"tag":         tagMapper,
	"comment":     commentMapper,
	"uploader":    uploaderMapper,
}

// column maps a field directly onto an object column. The field selector
// must have no dotted tail.
func column(col string) mapperFunc {
	return func(remainder string, v *value) (storage.Predicate, error) {
		if remainder != "" {
			return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
				fmt.Sprintf("field has no sub-field %q", remainder), nil)
		}
		return match(col, v)
	}
}

// subColumns maps a field family like file.name onto its columns.
func subColumns(cols map[string]string) mapperFunc {
	return func(remainder string, v *value) (storage.Predicate, error) {
		col, ok := cols[remainder]
		if !ok {
			return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
				fmt.Sprintf("unknown sub-field %q", remainder), nil)
		}
		return match(col, v)
	}
}

// cfgMapper reaches into the stored config document with json_extract; the
// dotted remainder addresses the sub-document key.
func cfgMapper(remainder string, v *value) (storage.Predicate, error) {
	if remainder == "" {
		return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
			"cfg needs a dotted key, like cfg.urls", nil)
	}
	return match(fmt.Sprintf("json_extract(o.config, '$.%s')", remainder), v)
}

func tagMapper(remainder string, v *value) (storage.Predicate, error) {
	if remainder != "" {
		return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
			fmt.Sprintf("field has no sub-field %q", remainder), nil)
	}
	inner, err := match("t.tag", v)
	if err != nil {
		return storage.Predicate{}, err
	}
	return storage.Predicate{
		SQL: `EXISTS (
			SELECT 1 FROM object_tags ot JOIN tags t ON t.id = ot.tag_id
			WHERE ot.object_id = o.id AND ` + inner.SQL + `)`,
		Args: inner.Args,
	}, nil
}

func commentMapper(remainder string, v *value) (storage.Predicate, error) {
	if remainder != "" {
		return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
			fmt.Sprintf("field has no sub-field %q", remainder), nil)
	}
	inner, err := match("c.comment", v)
	if err != nil {
		return storage.Predicate{}, err
	}
	return storage.Predicate{
		SQL: `EXISTS (
			SELECT 1 FROM comments c
			WHERE c.object_id = o.id AND ` + inner.SQL + `)`,
		Args: inner.Args,
	}, nil
}

// uploaderMapper matches through grant provenance: the initial grant of an
// upload names the uploader and points at the object itself.
func uploaderMapper(remainder string, v *value) (storage.Predicate, error) {
	if remainder != "" {
		return storage.Predicate{}, svcerr.NewFieldNotQueryableError(
			fmt.Sprintf("field has no sub-field %q", remainder), nil)
	}
	inner, err := match("u.login", v)
	if err != nil {
		return storage.Predicate{}, err
	}
	return storage.Predicate{
		SQL: `EXISTS (
			SELECT 1 FROM permissions p JOIN users u ON u.id = p.related_user_id
			WHERE p.object_id = o.id AND p.related_object_id = o.id AND ` + inner.SQL + `)`,
		Args: inner.Args,
	}, nil
}

// match compiles a value against a column: equality for plain values, LIKE
// for wildcarded ones, a BETWEEN pair for ranges.
func match(col string, v *value) (storage.Predicate, error) {
	switch {
	case v.Range != nil:
		if hasWildcard(v.Range.Low) || hasWildcard(v.Range.High) {
			return storage.Predicate{}, svcerr.NewUnsupportedGrammarError(
				"wildcards are not allowed inside range bounds", nil)
		}
		return storage.Predicate{
			SQL:  fmt.Sprintf("%s >= ? AND %s <= ?", col, col),
			Args: []any{v.Range.Low, v.Range.High},
		}, nil
	case v.Phrase != nil:
		// Quoted phrases match literally, wildcards included.
		return storage.Predicate{SQL: col + " = ?", Args: []any{*v.Phrase}}, nil
	case v.Word != nil:
		if hasWildcard(*v.Word) {
			return storage.Predicate{
				SQL:  col + ` LIKE ? ESCAPE '\'`,
				Args: []any{toLike(*v.Word)},
			}, nil
		}
		return storage.Predicate{SQL: col + " = ?", Args: []any{*v.Word}}, nil
	}
	return storage.Predicate{}, svcerr.NewUnsupportedGrammarError("empty value", nil)
}

func hasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// toLike rewrites Lucene wildcards into SQL LIKE syntax, escaping the LIKE
// metacharacters of the literal parts.
func toLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
