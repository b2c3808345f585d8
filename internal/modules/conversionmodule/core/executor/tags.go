package executor

import (
	"os"

	"github.com/dhowden/tag"
)

// readAudioTags returns the non-empty title, artist and album tags of path.
// Untagged or unreadable files yield an empty map.
func readAudioTags(path string) map[string]string {
	tags := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return tags
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return tags
	}

	for key, value := range map[string]string{
		"title":  metadata.Title(),
		"artist": metadata.Artist(),
		"album":  metadata.Album(),
	} {
		if value != "" {
			tags[key] = value
		}
	}
	return tags
}
