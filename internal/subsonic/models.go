package subsonic

import (
	"strconv"
	"strings"

	"github.com/ultrasonic/ultrasonic-sub000/internal/catalog"
)

// envelope wraps every JSON reply: {"subsonic-response": {...}}
type envelope struct {
	Response response `json:"subsonic-response"`
}

type response struct {
	Status  string    `json:"status"`
	Version string    `json:"version"`
	Error   *apiError `json:"error,omitempty"`

	RandomSongs     *songList               `json:"randomSongs,omitempty"`
	JukeboxStatus   *catalog.JukeboxStatus  `json:"jukeboxStatus,omitempty"`
	JukeboxPlaylist *jukeboxPlaylistPayload `json:"jukeboxPlaylist,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type songList struct {
	Song []catalog.Track `json:"song"`
}

type jukeboxPlaylistPayload struct {
	catalog.JukeboxStatus
	Entry []catalog.Track `json:"entry"`
}

// compareVersions compares dotted REST API versions ("1.7.0"). Missing
// components count as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := versionPart(as, i), versionPart(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return n
}
