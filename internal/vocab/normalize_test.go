package vocab

import "testing"

func TestFold(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Montado", "montado"},
		{"montado", "montado"},
		{"Montádo", "montado"},
		{"CAMBIO DE ARTÍCULO", "cambio de articulo"},
		{"Lucía", "lucia"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Fold(tc.in); got != tc.want {
			t.Errorf("Fold(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFoldCollapsesVariantsToSameKey(t *testing.T) {
	variants := []string{"Montado", "montado", "Montádo", "MONTADO"}
	key := Fold(variants[0])
	for _, v := range variants[1:] {
		if Fold(v) != key {
			t.Errorf("Fold(%q) = %q, expected %q", v, Fold(v), key)
		}
	}
}

func TestCanonicalLabel(t *testing.T) {
	vocabulary := []string{"Bio", "Cambio de artículo", "Montado"}

	cases := []struct {
		in   string
		want string
	}{
		{"montado", "Montado"},
		{"MONTÁDO", "Montado"},
		{"cambio de articulo", "Cambio de artículo"},
		{"Bio", "Bio"},
		// No fold match: the raw value is its own label.
		{"Rotura parcial", "Rotura parcial"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CanonicalLabel(tc.in, vocabulary); got != tc.want {
			t.Errorf("CanonicalLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
