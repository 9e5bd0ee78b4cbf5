package catalog

import "testing"

func TestTrack_Extension(t *testing.T) {
	tests := []struct {
		name  string
		track Track
		want  string
	}{
		{"transcoded wins", Track{Suffix: "flac", TranscodedSuffix: "MP3"}, "mp3"},
		{"suffix", Track{Suffix: "FLAC"}, "flac"},
		{"default", Track{}, "mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.track.Extension(); got != tt.want {
				t.Errorf("Extension() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIDs(t *testing.T) {
	ids := IDs([]Track{{ID: "a"}, {ID: "b"}})
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs() = %v, want [a b]", ids)
	}
}
