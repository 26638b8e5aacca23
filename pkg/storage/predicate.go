package storage

import "strings"

// Predicate is a composable storage-layer filter: a SQL condition over the
// object table (alias "o") plus its bind arguments. Predicates compose with
// boolean connectives and are passed into queries by the stores.
type Predicate struct {
	SQL  string
	Args []any
}

// True returns the always-true predicate.
func True() Predicate {
	return Predicate{SQL: "1=1"}
}

// False returns the always-false predicate.
func False() Predicate {
	return Predicate{SQL: "1=0"}
}

// And combines predicates with AND.
func And(preds ...Predicate) Predicate {
	return combine("AND", preds)
}

// Or combines predicates with OR.
func Or(preds ...Predicate) Predicate {
	return combine("OR", preds)
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return Predicate{SQL: "NOT (" + p.SQL + ")", Args: p.Args}
}

func combine(op string, preds []Predicate) Predicate {
	if len(preds) == 0 {
		return True()
	}
	if len(preds) == 1 {
		return preds[0]
	}
	parts := make([]string, 0, len(preds))
	var args []any
	for _, p := range preds {
		parts = append(parts, "("+p.SQL+")")
		args = append(args, p.Args...)
	}
	return Predicate{SQL: strings.Join(parts, " "+op+" "), Args: args}
}
