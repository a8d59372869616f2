package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fachebot/meeting-dashboard/internal/config"
	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/go-playground/validator/v10"
	"gopkg.in/gomail.v2"
)

// ErrNoRecipients 没有任何有效收件人
var ErrNoRecipients = errors.New("没有有效的收件人")

// Message 一封会议看板邮件
type Message struct {
	Recipients []string
	Title      string
	HTMLBody   string
	PDF        []byte
	PDFName    string
}

// sender 发送邮件的能力，便于测试替换
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	sender        sender
	validate      *validator.Validate
	from          string
	subject       string
	maxRecipients int
	retryTimes    int
	retryInterval time.Duration
}

func NewMailer(cfg *config.SMTP) *Mailer {
	return &Mailer{
		sender:        gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		validate:      validator.New(),
		from:          cfg.From,
		subject:       cfg.Subject,
		maxRecipients: cfg.MaxRecipients,
		retryTimes:    cfg.RetryTimes,
		retryInterval: time.Duration(cfg.RetryInterval) * time.Second,
	}
}

// Send 过滤无效地址后按批发送，返回实际发送成功的收件人。
// 某一批发送失败不影响其他批次，失败信息合并在返回的错误中
func (m *Mailer) Send(ctx context.Context, msg Message) ([]string, error) {
	recipients := m.filterRecipients(msg.Recipients)
	if len(recipients) == 0 {
		return []string{}, ErrNoRecipients
	}

	sent := make([]string, 0, len(recipients))
	var errs []error
	for i, batch := range splitRecipients(recipients, m.maxRecipients) {
		if err := m.sendBatch(ctx, batch, msg); err != nil {
			logger.Errorf("[Notify] 第 %d 批邮件发送失败: %v", i+1, err)
			errs = append(errs, fmt.Errorf("发送给 %s 失败: %w", strings.Join(batch, ","), err))
			continue
		}
		logger.Infof("[Notify] 已发送会议看板邮件给 %d 位收件人", len(batch))
		sent = append(sent, batch...)
	}
	return sent, errors.Join(errs...)
}

// filterRecipients 只保留合法邮箱，按顺序去重
func (m *Mailer) filterRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if err := m.validate.Var(r, "required,email"); err != nil {
			logger.Warnf("[Notify] 跳过无效邮箱: %s", r)
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// splitRecipients 按单封邮件最大收件人数拆分
func splitRecipients(recipients []string, size int) [][]string {
	if size <= 0 || len(recipients) <= size {
		return [][]string{recipients}
	}

	batches := make([][]string, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, recipients[start:end])
	}
	return batches
}

func (m *Mailer) buildMessage(batch []string, msg Message) *gomail.Message {
	title := msg.Title
	if title == "" {
		title = "Meeting"
	}

	mail := gomail.NewMessage()
	mail.SetHeader("From", m.from)
	mail.SetHeader("To", batch...)
	mail.SetHeader("Subject", fmt.Sprintf("%s - %s", m.subject, title))
	if msg.HTMLBody != "" {
		mail.SetBody("text/html", msg.HTMLBody)
	} else {
		mail.SetBody("text/plain", fmt.Sprintf("Attached is the dashboard for %s.", title))
	}

	if len(msg.PDF) > 0 {
		name := msg.PDFName
		if name == "" {
			name = "meeting-dashboard.pdf"
		}
		data := msg.PDF
		mail.Attach(name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}), gomail.SetHeader(map[string][]string{"Content-Type": {"application/pdf"}}))
	}
	return mail
}

// sendBatch 指数退避重试；ctx 结束时立即放弃
func (m *Mailer) sendBatch(ctx context.Context, batch []string, msg Message) error {
	mail := m.buildMessage(batch, msg)

	bo := backoff.NewExponentialBackOff()
	if m.retryInterval > 0 {
		bo.InitialInterval = m.retryInterval
	}
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := m.dialAndSend(ctx, mail)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logger.Warnf("[Notify] 邮件发送失败 (第 %d 次): %v", attempt, err)
		return err
	}

	retries := m.retryTimes
	if retries < 0 {
		retries = 0
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx))
}

// dialAndSend SMTP 客户端不支持 context，放到 goroutine 中执行以便超时返回
func (m *Mailer) dialAndSend(ctx context.Context, mail *gomail.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- m.sender.DialAndSend(mail)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
