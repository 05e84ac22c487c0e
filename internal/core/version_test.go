package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSatisfiesSpecifier(t *testing.T) {
	tests := []struct {
		version   string
		specifier string
		want      bool
	}{
		{"1.5", ">=1.0, <2", true},
		{"2.0", "<2", false},
		{"2.0rc1", ">=1.0", true},
		{"3.12.1", "", true},
		{"not-a-version", ">=1", false},
	}
	for _, tt := range tests {
		got, err := SatisfiesSpecifier(tt.version, tt.specifier)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.version, tt.specifier)
	}
}

func TestSortVersionsDesc(t *testing.T) {
	got := SortVersionsDesc([]string{"1.0", "2.0rc1", "1.10", "1.9", "bogus"})
	want := []string{"2.0rc1", "1.10", "1.9", "1.0", "bogus"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}
