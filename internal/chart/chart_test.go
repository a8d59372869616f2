package chart

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/analytics"
	"github.com/fachebot/meeting-dashboard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestBucketize(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 30, 0, time.UTC)
	utterances := []model.Utterance{
		{Text: "c", TimestampISO: "2025-03-01T09:02:10Z"},
		{Text: "a", TimestampISO: "2025-03-01T09:00:05Z"},
		{Text: "b", TimestampISO: "2025-03-01T09:00:59.9Z"},
		{Text: "无效时间戳被跳过", TimestampISO: "not-a-time"},
		{Text: "缺少时间戳计入 now"},
		{Text: "unix 秒", TimestampUnix: time.Date(2025, 3, 1, 9, 2, 0, 0, time.UTC).Unix()},
	}

	got := Bucketize(utterances, now)
	assert.Equal(t, []Bucket{
		{Key: "2025-03-01T09:00", Count: 2},
		{Key: "2025-03-01T09:02", Count: 2},
		{Key: "2025-03-01T10:00", Count: 1},
	}, got)
}

func TestBucketize_Empty(t *testing.T) {
	got := Bucketize(nil, time.Now())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer(640, 360)
	counts := []analytics.SpeakerCount{{Speaker: "A", Count: 3}, {Speaker: "B", Count: 1}}

	tests := []struct {
		name    string
		buckets []Bucket
	}{
		{"单个时间桶", []Bucket{{Key: "2025-03-01T09:00", Count: 4}}},
		{"多个时间桶", []Bucket{{Key: "2025-03-01T09:00", Count: 1}, {Key: "2025-03-01T09:01", Count: 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images, err := r.Render(context.Background(), counts, tt.buckets)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(images.Bar, pngMagic))
			assert.True(t, bytes.HasPrefix(images.Pie, pngMagic))
			assert.True(t, bytes.HasPrefix(images.Line, pngMagic))
		})
	}
}

func TestRenderer_NoData(t *testing.T) {
	images, err := NewRenderer(640, 360).Render(context.Background(), nil, nil)
	assert.NoError(t, err)
	assert.True(t, images.Empty())
}

func TestRenderer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	counts := []analytics.SpeakerCount{{Speaker: "A", Count: 1}}
	images, err := NewRenderer(640, 360).Render(ctx, counts, nil)
	if err != nil {
		assert.True(t, images.Empty())
	}
}
