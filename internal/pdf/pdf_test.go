package pdf

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chromePath 查找本机 Chrome，找不到时跳过测试
func chromePath(t *testing.T) string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("跳过 PDF 测试：未找到 Chrome")
	return ""
}

func TestRender_EmptyHTML(t *testing.T) {
	_, err := NewChromeRenderer(config.PDF{}).Render(context.Background(), "")
	assert.Error(t, err)
}

func TestRender_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChromeRenderer(config.PDF{NoSandbox: true}).Render(ctx, "<p>x</p>")
	assert.Error(t, err)
}

func TestRender_Chrome(t *testing.T) {
	path := chromePath(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	data, err := NewChromeRenderer(config.PDF{ChromePath: path, NoSandbox: true}).
		Render(ctx, "<html><body><h1>Weekly sync</h1></body></html>")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}
