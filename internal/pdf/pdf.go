// Package pdf 通过无头 Chrome 将看板 HTML 打印为 PDF
package pdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/fachebot/meeting-dashboard/internal/logger"
)

// A4 纸张尺寸（英寸）
const (
	a4Width  = 8.27
	a4Height = 11.69
)

// ChromeRenderer 每次渲染启动一个独立的浏览器实例
type ChromeRenderer struct {
	allocatorOptions []chromedp.ExecAllocatorOption
}

func NewChromeRenderer(cfg config.PDF) *ChromeRenderer {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return &ChromeRenderer{allocatorOptions: opts}
}

// Render 将 HTML 打印为 A4 PDF（保留背景色）
func (r *ChromeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	if html == "" {
		return nil, errors.New("HTML 内容为空")
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Errorf))
	defer cancelBrowser()

	var data []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4Width).
				WithPaperHeight(a4Height).
				Do(ctx)
			if err != nil {
				return err
			}
			data = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("生成 PDF 失败: %w", err)
	}
	return data, nil
}
