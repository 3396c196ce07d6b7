package domain

import "testing"

func TestCountLetters(t *testing.T) {
	cases := map[string]int{
		"":                0,
		"Super Gay Title": 13,
		"Super-Gay!":      8,
		"  ...  ":         0,
		"a1 b2":           4,
		"Ёлка":            0,
	}
	for input, want := range cases {
		if got := CountLetters(input); got != want {
			t.Errorf("CountLetters(%q) = %d, ожидали %d", input, got, want)
		}
	}
}

func TestPrefixByLetterCount(t *testing.T) {
	cases := []struct {
		base   string
		target int
		want   string
	}{
		{"Super Gay Title", 3, "Sup"},
		{"Super Gay Title", 5, "Super "},
		{"Super Gay Title", 7, "Super Ga"},
		{"Super Gay Title", 13, "Super Gay Title"},
		{"Super Gay Title", 100, "Super Gay Title"},
		{"Super-Gay!", 5, "Super-"},
		{"Super-Gay!", 8, "Super-Gay!"},
		{"...abc", 0, ""},
		{"...abc", 1, "...a"},
		{"", 3, ""},
		{"!!!", 3, ""},
		{"abc", -1, ""},
	}
	for _, tc := range cases {
		if got := PrefixByLetterCount(tc.base, tc.target); got != tc.want {
			t.Errorf("PrefixByLetterCount(%q, %d) = %q, ожидали %q", tc.base, tc.target, got, tc.want)
		}
	}
}

func TestPrefixByLetterCountRoundTrip(t *testing.T) {
	samples := []string{"Super Gay Title", "a-b-c", "один two три 42", "x", "hello, world!"}
	for _, s := range samples {
		total := CountLetters(s)
		if got := PrefixByLetterCount(s, total); got != s {
			t.Errorf("полный префикс %q = %q, ожидали исходную строку", s, got)
		}
		if got := PrefixByLetterCount(s, 0); got != "" {
			t.Errorf("нулевой префикс %q = %q, ожидали пустую строку", s, got)
		}
		for n := 0; n <= total+2; n++ {
			want := n
			if want > total {
				want = total
			}
			if got := CountLetters(PrefixByLetterCount(s, n)); got != want {
				t.Errorf("CountLetters(PrefixByLetterCount(%q, %d)) = %d, ожидали %d", s, n, got, want)
			}
		}
	}
}
