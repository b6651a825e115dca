package session

import "time"

// Subscription 断线时保存的一条订阅
type Subscription struct {
	Topic  string            `json:"topic"`
	Filter map[string]string `json:"filter,omitempty"`
}

// Data 重连所需的最小会话状态
type Data struct {
	Authenticated bool           `json:"authenticated"`
	UserID        string         `json:"user_id,omitempty"`
	Permissions   []string       `json:"permissions,omitempty"`
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
	LastSeen      time.Time      `json:"last_seen"`
}

// Session 存储中的会话
type Session struct {
	ClientID  string    `json:"client_id"`
	Data      Data      `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired 是否已过期
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// clone 深拷贝，避免调用方修改存储中的切片
func (s *Session) clone() *Session {
	cp := *s
	cp.Data.Permissions = append([]string(nil), s.Data.Permissions...)
	if s.Data.Subscriptions != nil {
		cp.Data.Subscriptions = make([]Subscription, len(s.Data.Subscriptions))
		for i, sub := range s.Data.Subscriptions {
			cp.Data.Subscriptions[i] = Subscription{Topic: sub.Topic}
			if sub.Filter != nil {
				f := make(map[string]string, len(sub.Filter))
				for k, v := range sub.Filter {
					f[k] = v
				}
				cp.Data.Subscriptions[i].Filter = f
			}
		}
	}
	return &cp
}
