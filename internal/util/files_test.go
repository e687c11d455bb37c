package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenWithParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")
	f, err := OpenWithParents(path, os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestExpandHome(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "home only", in: "~", want: HomeDir()},
		{name: "home prefix", in: "~/state.json", want: filepath.Join(HomeDir(), "state.json")},
		{name: "absolute", in: "/tmp/state.json", want: "/tmp/state.json"},
		{name: "relative", in: "out/state.json", want: "out/state.json"},
		{name: "tilde in name", in: "~user/x", want: "~user/x"},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				require.Equal(t, tt.want, ExpandHome(tt.in))
			},
		)
	}
}
