package blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_ObjectName(t *testing.T) {
	stamp := time.Date(2024, time.January, 31, 14, 22, 33, 0, time.UTC)

	tests := []struct {
		Summary  string
		Now      time.Time
		Filename string
		Expected string
	}{
		{
			Summary:  "plain filename",
			Now:      stamp,
			Filename: "talk.pdf",
			Expected: "20240131_142233_talk.pdf",
		},
		{
			Summary:  "path components are stripped",
			Now:      stamp,
			Filename: "/tmp/harvest-123/talk.pdf",
			Expected: "20240131_142233_talk.pdf",
		},
		{
			Summary:  "non-UTC input is normalised to UTC",
			Now:      time.Date(2024, time.January, 31, 15, 22, 33, 0, time.FixedZone("CET", 3600)),
			Filename: "clip.mp4",
			Expected: "20240131_142233_clip.mp4",
		},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			assert.Equal(t, test.Expected, ObjectName(test.Now, test.Filename))
		})
	}
}
