package updater

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func makeTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(f), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestFindPayload(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		maxDepth int
		want     string
		wantErr  bool
	}{
		{
			name:     "single file at root",
			files:    []string{"GeoLite2-ASN.mmdb"},
			maxDepth: 8,
			want:     "GeoLite2-ASN.mmdb",
		},
		{
			name:     "nested with license files",
			files:    []string{"GeoLite2-City_20240102/COPYRIGHT.txt", "GeoLite2-City_20240102/GeoLite2-City.mmdb"},
			maxDepth: 8,
			want:     "GeoLite2-City_20240102/GeoLite2-City.mmdb",
		},
		{
			name:     "extension is case insensitive",
			files:    []string{"dir/DB.MMDB"},
			maxDepth: 8,
			want:     "dir/DB.MMDB",
		},
		{
			name:     "no candidates",
			files:    []string{"README.txt", "LICENSE"},
			maxDepth: 8,
			wantErr:  true,
		},
		{
			name:     "several candidates",
			files:    []string{"a/one.mmdb", "b/two.mmdb"},
			maxDepth: 8,
			wantErr:  true,
		},
		{
			name:     "candidate beyond depth limit",
			files:    []string{"a/b/c/deep.mmdb"},
			maxDepth: 1,
			wantErr:  true,
		},
		{
			name:     "depth limit ignores deeper duplicates",
			files:    []string{"a/top.mmdb", "a/b/c/deep.mmdb"},
			maxDepth: 1,
			want:     "a/top.mmdb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := makeTree(t, tt.files...)
			got, err := findPayload(root, PayloadExtension, tt.maxDepth)

			if tt.wantErr {
				if !errors.Is(err, ErrPayloadNotFound) {
					t.Fatalf("error = %v, want ErrPayloadNotFound", err)
				}
				if !errors.Is(err, ErrExtraction) {
					t.Errorf("ErrPayloadNotFound should be an extraction error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if want := filepath.Join(root, filepath.FromSlash(tt.want)); got != want {
				t.Errorf("findPayload() = %q, want %q", got, want)
			}
		})
	}
}

func TestFindPayload_ListsCandidates(t *testing.T) {
	root := makeTree(t, "x/first.mmdb", "y/second.mmdb")

	_, err := findPayload(root, PayloadExtension, 8)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, name := range []string{"first.mmdb", "second.mmdb"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}
