package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  a\n\n b\t\tc  ", "a b c"},
		{"removes filler case-insensitively", "Intro ADVERTISEMENT body", "Intro body"},
		{"removes javascript banner", "Please enable JavaScript to view this site. Story", "Story"},
		{"removes newsletter prompts", "Text sign up for our newsletter more subscribe to our newsletter", "Text more"},
		{"nested filler", "AdverAdvertisementtisement", ""},
		{"literal dot", "Please enable JavaScript to view this siteX Story", "Please enable JavaScript to view this siteX Story"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Clean(tc.in))
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"a  Advertisement  b",
		"x  y",
		"Sign up for our newsletterSign up for our newsletter",
		"AdvertAdvertisementisement tail",
		"  plain text  ",
	}
	for _, in := range inputs {
		once := Clean(in)
		require.Equal(t, once, Clean(once), "input %q", in)
	}
}

func FuzzCleanIdempotent(f *testing.F) {
	for _, seed := range []string{"a Advertisement b", "\t\n", "AdverAdvertisementtisement"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Clean(in)
		if twice := Clean(once); twice != once {
			t.Fatalf("Clean not idempotent: %q -> %q -> %q", in, once, twice)
		}
	})
}
