package sha256

import "testing"

func TestHashKnownDigests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty page", "", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"article body", "hello world", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := New().Hash([]byte(tt.in))
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Hash(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
