package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Host            string `yaml:"Host"`
	Port            string `yaml:"Port"`
	PublicBaseURL   string `yaml:"PublicBaseURL"` // 生成下载链接时使用，为空则返回相对路径
	ShutdownTimeout int    `yaml:"ShutdownTimeout"`
	BodyLimit       string `yaml:"BodyLimit"` // 如 "16M"
}

type Log struct {
	Level string `yaml:"Level"` // debug / info / warn / error
	Dir   string `yaml:"Dir"`
}

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type LLM struct {
	BaseURL   string `yaml:"BaseURL"` // 兼容 OpenAI API 的端点（Ollama 使用 http://host:11434/v1）
	APIKey    string `yaml:"APIKey"`
	Model     string `yaml:"Model"`
	MaxTokens int    `yaml:"MaxTokens"` // 模型上下文窗口大小
}

type Summarizer struct {
	Backend string `yaml:"Backend"` // "heuristic" / "llm"
}

type Chart struct {
	Width  int `yaml:"Width"`
	Height int `yaml:"Height"`
}

type PDF struct {
	ChromePath string `yaml:"ChromePath"` // 为空时由 chromedp 自动查找
	NoSandbox  bool   `yaml:"NoSandbox"`
}

type SMTP struct {
	Host          string `yaml:"Host"`
	Port          int    `yaml:"Port"`
	Username      string `yaml:"Username"`
	Password      string `yaml:"Password"`
	From          string `yaml:"From"`
	Subject       string `yaml:"Subject"`       // 邮件主题前缀
	MaxRecipients int    `yaml:"MaxRecipients"` // 单封邮件最多收件人数
	RetryTimes    int    `yaml:"RetryTimes"`    // 发送失败重试次数
	RetryInterval int    `yaml:"RetryInterval"` // 初始重试间隔（秒）
}

type Participants struct {
	Default []string `yaml:"Default"` // 无法解析参会人时使用的默认收件人
}

type Dashboard struct {
	CacheTTLMinutes int    `yaml:"CacheTTLMinutes"`
	TranscriptTail  int    `yaml:"TranscriptTail"`
	JanitorCron     string `yaml:"JanitorCron"`
}

type Timeouts struct {
	SummarizerSeconds int `yaml:"SummarizerSeconds"`
	ChartSeconds      int `yaml:"ChartSeconds"`
	PDFSeconds        int `yaml:"PDFSeconds"`
	MailSeconds       int `yaml:"MailSeconds"`
}

type Transcript struct {
	RetentionHours int `yaml:"RetentionHours"` // 空闲会议转录保留时长，0 表示不清理
}

type Config struct {
	Server       Server       `yaml:"Server"`
	Log          Log          `yaml:"Log"`
	Sock5Proxy   Sock5Proxy   `yaml:"Sock5Proxy"`
	LLM          LLM          `yaml:"LLM"`
	Summarizer   Summarizer   `yaml:"Summarizer"`
	Chart        Chart        `yaml:"Chart"`
	PDF          PDF          `yaml:"PDF"`
	SMTP         SMTP         `yaml:"SMTP"`
	Participants Participants `yaml:"Participants"`
	Dashboard    Dashboard    `yaml:"Dashboard"`
	Timeouts     Timeouts     `yaml:"Timeouts"`
	Transcript   Transcript   `yaml:"Transcript"`
}

// envOverrides 允许通过环境变量（或 .env）覆盖敏感配置
type envOverrides struct {
	Port                string   `envconfig:"PORT"`
	LLMAPIKey           string   `envconfig:"LLM_API_KEY"`
	LLMBaseURL          string   `envconfig:"LLM_BASE_URL"`
	SMTPHost            string   `envconfig:"SMTP_HOST"`
	SMTPUser            string   `envconfig:"SMTP_USER"`
	SMTPPass            string   `envconfig:"SMTP_PASS"`
	EmailFrom           string   `envconfig:"EMAIL_FROM"`
	DefaultParticipants []string `envconfig:"DEFAULT_PARTICIPANTS"`
}

func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	c, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// .env 不存在时忽略
	_ = godotenv.Load()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse 解析 YAML 内容，不读取环境变量也不做校验
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := envconfig.Process("", &o); err != nil {
		return fmt.Errorf("读取环境变量失败: %w", err)
	}

	if o.Port != "" {
		c.Server.Port = o.Port
	}
	if o.LLMAPIKey != "" {
		c.LLM.APIKey = o.LLMAPIKey
	}
	if o.LLMBaseURL != "" {
		c.LLM.BaseURL = o.LLMBaseURL
	}
	if o.SMTPHost != "" {
		c.SMTP.Host = o.SMTPHost
	}
	if o.SMTPUser != "" {
		c.SMTP.Username = o.SMTPUser
	}
	if o.SMTPPass != "" {
		c.SMTP.Password = o.SMTPPass
	}
	if o.EmailFrom != "" {
		c.SMTP.From = o.EmailFrom
	}
	if len(o.DefaultParticipants) > 0 {
		c.Participants.Default = o.DefaultParticipants
	}
	return nil
}

// ApplyDefaults 为未填写的字段设置默认值
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == "" {
		c.Server.Port = "3001"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = "16M"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Summarizer.Backend == "" {
		c.Summarizer.Backend = "heuristic"
	}
	if c.Chart.Width <= 0 {
		c.Chart.Width = 800
	}
	if c.Chart.Height <= 0 {
		c.Chart.Height = 420
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.Username
	}
	if c.SMTP.Subject == "" {
		c.SMTP.Subject = "Meeting Dashboard"
	}
	if c.SMTP.MaxRecipients <= 0 {
		c.SMTP.MaxRecipients = 50
	}
	if c.SMTP.RetryTimes <= 0 {
		c.SMTP.RetryTimes = 3
	}
	if c.SMTP.RetryInterval <= 0 {
		c.SMTP.RetryInterval = 5
	}
	if c.Dashboard.CacheTTLMinutes <= 0 {
		c.Dashboard.CacheTTLMinutes = 24 * 60
	}
	if c.Dashboard.TranscriptTail <= 0 {
		c.Dashboard.TranscriptTail = 500
	}
	if c.Dashboard.JanitorCron == "" {
		c.Dashboard.JanitorCron = "@every 5m"
	}
	if c.Timeouts.SummarizerSeconds <= 0 {
		c.Timeouts.SummarizerSeconds = 120
	}
	if c.Timeouts.ChartSeconds <= 0 {
		c.Timeouts.ChartSeconds = 30
	}
	if c.Timeouts.PDFSeconds <= 0 {
		c.Timeouts.PDFSeconds = 60
	}
	if c.Timeouts.MailSeconds <= 0 {
		c.Timeouts.MailSeconds = 60
	}

	cleaned := make([]string, 0, len(c.Participants.Default))
	for _, p := range c.Participants.Default {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	c.Participants.Default = cleaned
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("Server.Port 不能为空")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("Log.Level 必须是 'debug', 'info', 'warn' 或 'error'")
	}

	switch c.Summarizer.Backend {
	case "heuristic":
	case "llm":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM.APIKey 不能为空（当 Summarizer.Backend 为 'llm' 时）")
		}
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("LLM.BaseURL 不能为空（当 Summarizer.Backend 为 'llm' 时）")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("LLM.Model 不能为空（当 Summarizer.Backend 为 'llm' 时）")
		}
		if c.LLM.MaxTokens <= 2000 {
			return fmt.Errorf("LLM.MaxTokens 必须大于 2000")
		}
	default:
		return fmt.Errorf("Summarizer.Backend 必须是 'heuristic' 或 'llm'")
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("SMTP.From 不能为空（当配置了 SMTP.Host 时）")
	}
	if c.Transcript.RetentionHours < 0 {
		return fmt.Errorf("Transcript.RetentionHours 必须 >= 0")
	}
	return nil
}

// MailEnabled 是否配置了邮件发送
func (c *Config) MailEnabled() bool {
	return c.SMTP.Host != ""
}
