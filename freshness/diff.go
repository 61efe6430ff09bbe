package freshness

import (
	"fmt"
	"reflect"
	"sort"
)

// Root is reported when a document changed but is not a map or a list.
const Root = "$"

/*
ChangedFields lists what differs between two decoded JSON documents.

  - objects: the top-level keys that were added, removed or changed, sorted
  - lists of objects carrying an "id": "id:<value>" for every changed,
    added or removed element
  - other lists: "[i]" for every index that differs
  - anything else: Root when the values differ

Equal documents yield nil.
*/
func ChangedFields(prev, next any) []string {
	if reflect.DeepEqual(prev, next) {
		return nil
	}

	pm, pok := prev.(map[string]any)
	nm, nok := next.(map[string]any)
	if pok && nok {
		return mapFields(pm, nm)
	}

	pl, pok := prev.([]any)
	nl, nok := next.([]any)
	if pok && nok {
		if keyedByID(pl) && keyedByID(nl) {
			return idFields(pl, nl)
		}
		return indexFields(pl, nl)
	}

	return []string{Root}
}

func mapFields(prev, next map[string]any) []string {
	var out []string
	for k, nv := range next {
		if pv, ok := prev[k]; !ok || !reflect.DeepEqual(pv, nv) {
			out = append(out, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func keyedByID(list []any) bool {
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := m["id"]; !ok {
			return false
		}
	}
	return true
}

func idOf(v any) string {
	return fmt.Sprint(v.(map[string]any)["id"])
}

func idFields(prev, next []any) []string {
	before := make(map[string]any, len(prev))
	for _, v := range prev {
		before[idOf(v)] = v
	}

	var out []string
	seen := make(map[string]bool, len(next))
	for _, v := range next {
		id := idOf(v)
		seen[id] = true
		if pv, ok := before[id]; !ok || !reflect.DeepEqual(pv, v) {
			out = append(out, "id:"+id)
		}
	}
	for _, v := range prev {
		if id := idOf(v); !seen[id] {
			out = append(out, "id:"+id)
		}
	}
	if out == nil {
		// same elements, different order
		return []string{Root}
	}
	return out
}

func indexFields(prev, next []any) []string {
	n := len(prev)
	if len(next) > n {
		n = len(next)
	}
	var out []string
	for i := 0; i < n; i++ {
		if i >= len(prev) || i >= len(next) || !reflect.DeepEqual(prev[i], next[i]) {
			out = append(out, fmt.Sprintf("[%d]", i))
		}
	}
	return out
}
