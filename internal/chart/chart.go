// Package chart 将会议统计渲染为 PNG 图表
package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fachebot/meeting-dashboard/internal/analytics"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/fachebot/meeting-dashboard/internal/model"
	gochart "github.com/wcharczuk/go-chart/v2"
)

// bucketLayout 一分钟粒度的桶键
const bucketLayout = "2006-01-02T15:04"

// maxLabeledTicks 折线图横轴最多标注的桶数，超过后不显示时间标签
const maxLabeledTicks = 12

// Bucket 某一分钟内的发言数
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Images 渲染结果，未能渲染的图表为 nil
type Images struct {
	Bar  []byte
	Pie  []byte
	Line []byte
}

// Empty 是否没有任何图表
func (i Images) Empty() bool {
	return len(i.Bar) == 0 && len(i.Pie) == 0 && len(i.Line) == 0
}

// Bucketize 按分钟统计发言数，按桶键升序；缺少时间戳的片段计入 now，时间戳无法解析的片段跳过
func Bucketize(utterances []model.Utterance, now time.Time) []Bucket {
	counts := make(map[string]int)
	for _, u := range utterances {
		ts, approximate := analytics.ResolveTimestamp(u, now)
		if approximate && strings.TrimSpace(u.TimestampISO) != "" {
			continue
		}
		counts[ts.UTC().Format(bucketLayout)]++
	}

	buckets := make([]Bucket, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, Bucket{Key: key, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}

// Renderer go-chart 渲染器
type Renderer struct {
	width  int
	height int
}

func NewRenderer(width, height int) *Renderer {
	return &Renderer{width: width, height: height}
}

// Render 分别渲染柱状图、饼图与折线图；单个图表失败不影响其他图表，
// ctx 结束时立即返回空结果
func (r *Renderer) Render(ctx context.Context, counts []analytics.SpeakerCount, buckets []Bucket) (Images, error) {
	type result struct {
		images Images
		err    error
	}

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("渲染图表 panic: %v", rec)}
			}
		}()

		var images Images
		var errs []error
		if len(counts) > 0 {
			bar, err := r.renderBar(counts)
			if err != nil {
				errs = append(errs, fmt.Errorf("柱状图: %w", err))
			}
			images.Bar = bar

			pie, err := r.renderPie(counts)
			if err != nil {
				errs = append(errs, fmt.Errorf("饼图: %w", err))
			}
			images.Pie = pie
		}
		if len(buckets) > 0 {
			line, err := r.renderLine(buckets)
			if err != nil {
				errs = append(errs, fmt.Errorf("折线图: %w", err))
			}
			images.Line = line
		}
		ch <- result{images: images, err: errors.Join(errs...)}
	}()

	select {
	case <-ctx.Done():
		return Images{}, fmt.Errorf("渲染图表超时: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			logger.Warnf("[Chart] 部分图表渲染失败: %v", res.err)
		}
		return res.images, res.err
	}
}

func maxCount(counts []analytics.SpeakerCount) int {
	m := 0
	for _, c := range counts {
		if c.Count > m {
			m = c.Count
		}
	}
	return m
}

func (r *Renderer) renderBar(counts []analytics.SpeakerCount) ([]byte, error) {
	bars := make([]gochart.Value, 0, len(counts))
	for _, c := range counts {
		bars = append(bars, gochart.Value{Label: c.Speaker, Value: float64(c.Count)})
	}

	graph := gochart.BarChart{
		Title:    "Messages per speaker",
		Width:    r.width,
		Height:   r.height,
		BarWidth: 40,
		YAxis: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: 0, Max: float64(maxCount(counts) + 1)},
		},
		Bars: bars,
	}
	return encode(graph.Render)
}

func (r *Renderer) renderPie(counts []analytics.SpeakerCount) ([]byte, error) {
	values := make([]gochart.Value, 0, len(counts))
	for _, c := range counts {
		values = append(values, gochart.Value{Label: c.Speaker, Value: float64(c.Count)})
	}

	graph := gochart.PieChart{
		Width:  r.height,
		Height: r.height,
		Values: values,
	}
	return encode(graph.Render)
}

func (r *Renderer) renderLine(buckets []Bucket) ([]byte, error) {
	xs := make([]float64, len(buckets))
	ys := make([]float64, len(buckets))
	peak := 0
	for i, b := range buckets {
		xs[i] = float64(i)
		ys[i] = float64(b.Count)
		if b.Count > peak {
			peak = b.Count
		}
	}

	// 单个桶时横轴区间为零，go-chart 会拒绝渲染
	xMax := float64(len(buckets) - 1)
	if xMax < 1 {
		xMax = 1
	}

	xAxis := gochart.XAxis{Range: &gochart.ContinuousRange{Min: 0, Max: xMax}}
	if len(buckets) >= 2 && len(buckets) <= maxLabeledTicks {
		for i, b := range buckets {
			xAxis.Ticks = append(xAxis.Ticks, gochart.Tick{Value: float64(i), Label: b.Key[len(b.Key)-5:]})
		}
	}

	graph := gochart.Chart{
		Width:  r.width,
		Height: r.height,
		XAxis:  xAxis,
		YAxis: gochart.YAxis{
			Range: &gochart.ContinuousRange{Min: 0, Max: float64(peak + 1)},
		},
		Series: []gochart.Series{
			gochart.ContinuousSeries{
				Name:    "Messages per minute",
				XValues: xs,
				YValues: ys,
			},
		},
	}
	return encode(graph.Render)
}

func encode(render func(gochart.RendererProvider, io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := render(gochart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
