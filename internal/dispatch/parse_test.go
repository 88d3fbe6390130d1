package dispatch

import (
	"reflect"
	"testing"
)

func TestParseTasks(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"single", "dishes", []string{"dishes"}},
		{"split and trim", " dishes ; laundry ;; trash ", []string{"dishes", "laundry", "trash"}},
		{"multiplier", "{3x}dishes", []string{"dishes", "dishes", "dishes"}},
		{"multiplier with space", "{2x} water plants", []string{"water plants", "water plants"}},
		{"multiplier among plain", "dishes;{2x}trash;laundry", []string{"dishes", "trash", "trash", "laundry"}},
		{"zero multiplier ignored", "{0x}dishes", []string{"dishes"}},
		{"bare multiplier dropped", "{3x}", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTasks(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTasks(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}
