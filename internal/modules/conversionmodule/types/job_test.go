package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Video ")
	require.NoError(t, err)
	assert.Equal(t, CategoryVideo, c)

	_, err = ParseCategory("document")
	assert.Error(t, err)
}

func TestJobOutputPath(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want string
	}{
		{"swap extension", Job{SourcePath: "/media/clip.mov", TargetFormat: "mp4"}, "/media/clip.mp4"},
		{"leading dot", Job{SourcePath: "/media/song.wav", TargetFormat: ".MP3"}, "/media/song.mp3"},
		{"same format", Job{SourcePath: "/media/a.png", TargetFormat: "png"}, "/media/a_converted.png"},
		{"no extension", Job{SourcePath: "/media/raw", TargetFormat: "mkv"}, "/media/raw.mkv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.OutputPath())
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(EventJobCompleted))
	assert.True(t, IsTerminal(EventJobFailed))
	assert.True(t, IsTerminal(EventJobCancelled))
	assert.False(t, IsTerminal(EventJobStarted))
	assert.False(t, IsTerminal(EventJobsCancelled))
}
