package ingest

import (
	"bytes"
	"encoding/json"
	"strings"
)

// flexString 兼容字符串、数字与 null 的 JSON 字段
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
	case data[0] == '{' || data[0] == '[':
		*s = ""
	default:
		*s = flexString(data)
	}
	return nil
}

func (s flexString) String() string {
	return strings.TrimSpace(string(s))
}

// participantRef 参会人，可能是纯字符串或对象
type participantRef struct {
	Email       string `json:"email"`
	UserEmail   string `json:"user_email"`
	Address     string `json:"address"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
}

func (p *participantRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*p = participantRef{Name: v}
		return nil
	}
	if len(data) == 0 || data[0] != '{' {
		*p = participantRef{}
		return nil
	}

	type alias participantRef
	var v alias
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = participantRef(v)
	return nil
}

// Identity 优先使用邮箱，其次显示名
func (p *participantRef) Identity() string {
	if p == nil {
		return ""
	}
	for _, v := range []string{p.Email, p.UserEmail, p.Address, p.Name, p.DisplayName, p.Username} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// SpeakerName 说话人名称，优先显示名
func (p *participantRef) SpeakerName() string {
	if p == nil {
		return ""
	}
	for _, v := range []string{p.Name, p.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type meetingRef struct {
	ID    flexString `json:"id"`
	Title string     `json:"title"`
}

// startTimestamp 可能是 ISO 字符串，也可能是 {absolute, iso} 对象
type startTimestamp string

func (t *startTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*t = startTimestamp(v)
	case len(data) > 0 && data[0] == '{':
		var v struct {
			Absolute string `json:"absolute"`
			ISO      string `json:"iso"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if v.Absolute != "" {
			*t = startTimestamp(v.Absolute)
		} else {
			*t = startTimestamp(v.ISO)
		}
	default:
		*t = ""
	}
	return nil
}

type word struct {
	Text           string         `json:"text"`
	StartTimestamp startTimestamp `json:"start_timestamp"`
}

// body webhook 载荷的一层，根、data、data.data 三层结构相同
type body struct {
	Event        string           `json:"event"`
	Type         string           `json:"type"`
	Action       string           `json:"action"`
	EventType    string           `json:"event_type"`
	MeetingID    flexString       `json:"meeting_id"`
	MeetingTitle string           `json:"meeting_title"`
	Meeting      *meetingRef      `json:"meeting"`
	Participant  *participantRef  `json:"participant"`
	User         *participantRef  `json:"user"`
	Participants []participantRef `json:"participants"`
	Speaker      flexString       `json:"speaker"`
	UtteranceID  flexString       `json:"utterance_id"`
	ID           flexString       `json:"id"`
	IsFinal      *bool            `json:"is_final"`
	Words        []word           `json:"words"`
	Segments     []word           `json:"segments"`
	Data         json.RawMessage  `json:"data"`
}

// decodeObject 仅当 raw 为 JSON 对象时解析
func decodeObject(raw json.RawMessage) (*body, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// payload 解码后的三层载荷，data 与 inner 可能为 nil
type payload struct {
	root  *body
	data  *body
	inner *body
}

func (p *payload) eventName() string {
	return firstNonEmpty(p.root.Event, p.root.Type, p.root.Action, p.root.EventType)
}

func (p *payload) meetingID() string {
	var candidates []string
	if p.data != nil {
		candidates = append(candidates, p.data.MeetingID.String())
	}
	candidates = append(candidates, p.root.MeetingID.String())
	if p.data != nil && p.data.Meeting != nil {
		candidates = append(candidates, p.data.Meeting.ID.String())
	}
	if p.root.Meeting != nil {
		candidates = append(candidates, p.root.Meeting.ID.String())
	}
	return firstNonEmpty(candidates...)
}

func (p *payload) title() string {
	if p.data != nil && p.data.Meeting != nil && p.data.Meeting.Title != "" {
		return p.data.Meeting.Title
	}
	return p.root.MeetingTitle
}

// participant 参会人事件中的参会人
func (p *payload) participant() *participantRef {
	if p.data != nil && p.data.Participant != nil {
		return p.data.Participant
	}
	if p.root.Participant != nil {
		return p.root.Participant
	}
	if p.data != nil {
		return p.data.User
	}
	return nil
}

// participants 结束事件中附带的参会人列表
func (p *payload) participants() []string {
	refs := p.root.Participants
	if p.data != nil && len(p.data.Participants) > 0 {
		refs = p.data.Participants
	}

	out := make([]string, 0, len(refs))
	for i := range refs {
		if id := refs[i].Identity(); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// transcriptBody 转录内容所在层：data.data，其次 data，最后根
func (p *payload) transcriptBody() *body {
	switch {
	case p.inner != nil:
		return p.inner
	case p.data != nil:
		return p.data
	default:
		return p.root
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
