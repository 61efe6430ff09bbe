package freshness

import (
	"strings"
	"testing"
)

func TestChangedFields(t *testing.T) {
	tests := []struct {
		name string
		prev any
		next any
		want string
	}{
		{"equal", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}, ""},
		{
			"object fields",
			map[string]any{"aqi": 150.0, "beds": 10.0, "gone": true},
			map[string]any{"aqi": 162.0, "beds": 10.0, "new": "x"},
			"aqi,gone,new",
		},
		{
			"list by id",
			[]any{map[string]any{"id": "1", "beds": 23.0}, map[string]any{"id": "2", "beds": 5.0}},
			[]any{map[string]any{"id": "1", "beds": 20.0}, map[string]any{"id": "3", "beds": 1.0}},
			"id:1,id:3,id:2",
		},
		{
			"list reordered",
			[]any{map[string]any{"id": 1.0}, map[string]any{"id": 2.0}},
			[]any{map[string]any{"id": 2.0}, map[string]any{"id": 1.0}},
			"$",
		},
		{"list by index", []any{1.0, 2.0}, []any{1.0, 3.0, 4.0}, "[1],[2]"},
		{"scalar", 1.0, 2.0, "$"},
		{"type change", map[string]any{}, []any{}, "$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(ChangedFields(tt.prev, tt.next), ",")
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
