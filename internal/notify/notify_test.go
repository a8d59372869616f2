package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

// fakeSender 记录发送的邮件，前 failTimes 次返回错误
type fakeSender struct {
	mu        sync.Mutex
	failTimes int
	calls     int
	sent      []*gomail.Message
	block     bool
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.block {
		select {}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failTimes {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newTestMailer(s sender, maxRecipients, retryTimes int) *Mailer {
	return &Mailer{
		sender:        s,
		validate:      validator.New(),
		from:          "bot@example.com",
		subject:       "Meeting Dashboard",
		maxRecipients: maxRecipients,
		retryTimes:    retryTimes,
		retryInterval: time.Millisecond,
	}
}

func TestSend_FiltersInvalidRecipients(t *testing.T) {
	fs := &fakeSender{}
	m := newTestMailer(fs, 50, 0)

	sent, err := m.Send(context.Background(), Message{
		Recipients: []string{"a@example.com", "Alice", " ", "b@example.com", "a@example.com"},
		Title:      "Weekly sync",
		PDF:        []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sent)
	require.Len(t, fs.sent, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, fs.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Meeting Dashboard - Weekly sync"}, fs.sent[0].GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = fs.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "meeting-dashboard.pdf")
}

func TestSend_NoValidRecipients(t *testing.T) {
	fs := &fakeSender{}
	sent, err := newTestMailer(fs, 50, 0).Send(context.Background(), Message{Recipients: []string{"Bob"}})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Empty(t, sent)
	assert.Equal(t, 0, fs.calls)
}

func TestSend_Batches(t *testing.T) {
	fs := &fakeSender{}
	m := newTestMailer(fs, 2, 0)

	recipients := []string{"a@example.com", "b@example.com", "c@example.com"}
	sent, err := m.Send(context.Background(), Message{Recipients: recipients})
	require.NoError(t, err)
	assert.Equal(t, recipients, sent)
	require.Len(t, fs.sent, 2)
	assert.Equal(t, []string{"c@example.com"}, fs.sent[1].GetHeader("To"))
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	fs := &fakeSender{failTimes: 2}
	sent, err := newTestMailer(fs, 50, 3).Send(context.Background(), Message{Recipients: []string{"a@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, sent)
	assert.Equal(t, 3, fs.calls)
}

func TestSend_RetriesExhausted(t *testing.T) {
	fs := &fakeSender{failTimes: 10}
	sent, err := newTestMailer(fs, 50, 1).Send(context.Background(), Message{Recipients: []string{"a@example.com"}})
	assert.Error(t, err)
	assert.Empty(t, sent)
	assert.Equal(t, 2, fs.calls)
}

func TestSend_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestMailer(&fakeSender{block: true}, 50, 3).Send(ctx, Message{Recipients: []string{"a@example.com"}})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSplitRecipients(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		size int
		want int
	}{
		{"不限制", []string{"a", "b", "c"}, 0, 1},
		{"刚好一批", []string{"a", "b"}, 2, 1},
		{"多批", []string{"a", "b", "c", "d", "e"}, 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := splitRecipients(tt.in, tt.size)
			assert.Len(t, batches, tt.want)
			total := 0
			for _, b := range batches {
				total += len(b)
			}
			assert.Equal(t, len(tt.in), total, "收件人总数应守恒")
		})
	}
}
