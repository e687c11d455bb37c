package state

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestDocument(t *testing.T) {
	tests := []struct {
		name string
		do   func(*testing.T, afero.Fs)
	}{
		{
			name: "missing input yields empty registry",
			do: func(t *testing.T, fs afero.Fs) {
				d, err := LoadDocument(fs, "/in/state.json")
				require.NoError(t, err)
				r, err := d.Registry()
				require.NoError(t, err)
				require.Equal(t, State{FilesAtNewestTimestamp: []string{}}, r.State())
			},
		},
		{
			name: "empty input yields empty registry",
			do: func(t *testing.T, fs afero.Fs) {
				require.NoError(t, afero.WriteFile(fs, "/in/state.json", nil, 0644))
				d, err := LoadDocument(fs, "/in/state.json")
				require.NoError(t, err)
				r, err := d.Registry()
				require.NoError(t, err)
				require.Equal(t, int64(0), r.NewestTimestamp())
			},
		},
		{
			name: "registry is read from the state key",
			do: func(t *testing.T, fs afero.Fs) {
				in := `{"ex-ftp-state":{"newest-timestamp":1000,"last-timestamp-files":["/dir/a.csv"]}}`
				require.NoError(t, afero.WriteFile(fs, "/in/state.json", []byte(in), 0644))
				d, err := LoadDocument(fs, "/in/state.json")
				require.NoError(t, err)
				r, err := d.Registry()
				require.NoError(t, err)
				require.False(t, r.Accepts("/dir/a.csv", 1000))
				require.True(t, r.Accepts("/dir/b.csv", 1000))
			},
		},
		{
			name: "persist keeps sibling keys",
			do: func(t *testing.T, fs afero.Fs) {
				in := `{"other":{"keep":true},"ex-ftp-state":{"newest-timestamp":1,"last-timestamp-files":[]}}`
				require.NoError(t, afero.WriteFile(fs, "/in/state.json", []byte(in), 0644))

				r := NewRegistry(State{NewestTimestamp: 1005, FilesAtNewestTimestamp: []string{"/dir/c.csv"}})
				require.NoError(t, Persist(fs, "/in/state.json", "/out/state.json", r))

				b, err := afero.ReadFile(fs, "/out/state.json")
				require.NoError(t, err)
				var got map[string]any
				require.NoError(t, json.Unmarshal(b, &got))
				require.Equal(t, map[string]any{"keep": true}, got["other"])
				require.Equal(
					t,
					map[string]any{"newest-timestamp": float64(1005), "last-timestamp-files": []any{"/dir/c.csv"}},
					got[Key],
				)

				exists, err := afero.Exists(fs, "/out/state.json.tmp")
				require.NoError(t, err)
				require.False(t, exists)
			},
		},
		{
			name: "malformed input is an error",
			do: func(t *testing.T, fs afero.Fs) {
				require.NoError(t, afero.WriteFile(fs, "/in/state.json", []byte("{"), 0644))
				_, err := LoadDocument(fs, "/in/state.json")
				require.Error(t, err)
			},
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				tt.do(t, afero.NewMemMapFs())
			},
		)
	}
}
