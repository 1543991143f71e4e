package resolve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseProgressLine(t *testing.T) {
	tests := []struct {
		Summary string
		Line    string
		Percent float64
		Rate    string
		Ok      bool
	}{
		{
			Summary: "mid-download line",
			Line:    "[download]  42.1% of 10.00MiB at 1.21MiB/s ETA 00:05",
			Percent: 42.1,
			Rate:    "1.21MiB/s",
			Ok:      true,
		},
		{
			Summary: "completion line without rate",
			Line:    "[download] 100% of 10.00MiB in 00:08",
			Percent: 100,
			Ok:      true,
		},
		{
			Summary: "destination line is not progress",
			Line:    "[download] Destination: /tmp/harvest/video.mp4",
			Ok:      false,
		},
		{
			Summary: "unrelated output",
			Line:    "[info] Writing video metadata",
			Ok:      false,
		},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			percent, rate, ok := parseProgressLine(test.Line)
			assert.Equal(t, test.Ok, ok)
			if test.Ok {
				assert.Equal(t, test.Percent, percent)
				assert.Equal(t, test.Rate, rate)
			}
		})
	}
}

func Test_ProbeOutput_ToMediaInfo(t *testing.T) {
	raw := `{
		"title": "A Talk",
		"duration": 312.7,
		"uploader": "someone",
		"upload_date": "20240131",
		"extractor_key": "Youtube",
		"webpage_url": "https://www.youtube.com/watch?v=abc",
		"ext": "mp4",
		"format_id": "22"
	}`

	var parsed probeOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &parsed))

	info := parsed.toMediaInfo("best[height<=720]/best")
	assert.Equal(t, "A Talk", info.Title)
	assert.Equal(t, 312, info.DurationSeconds)
	assert.Equal(t, "someone", info.Attributes["uploader"])
	assert.Equal(t, "Youtube", info.Attributes["source_site"])
	assert.Equal(t, "best[height<=720]/best", info.Attributes["format_used"])
}

func Test_FormatLadder_Order(t *testing.T) {
	require.Len(t, FormatLadder, 4)
	assert.Equal(t, "best[height<=720]/best", FormatLadder[0])
	assert.Equal(t, "worst", FormatLadder[3])
}
