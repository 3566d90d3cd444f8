package repoindex

import (
	"reflect"
	"testing"
)

func TestTokenizeSplitsCamelAndSnakeCase(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"camelCase", "getUserById", []string{"get", "user", "by", "id"}},
		{"snake_case", "get_user_by_id", []string{"get", "user", "by", "id"}},
		{"mixed punctuation", "foo.Bar(baz)", []string{"foo", "bar", "baz"}},
		{"digits stick to adjoining letters", "base64Encode", []string{"base64", "encode"}},
		{"empty string", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTermFrequencies(t *testing.T) {
	freq := termFrequencies([]string{"a", "b", "a", "a"})
	if freq["a"] != 3 {
		t.Errorf("freq[a] = %d, want 3", freq["a"])
	}
	if freq["b"] != 1 {
		t.Errorf("freq[b] = %d, want 1", freq["b"])
	}
}
