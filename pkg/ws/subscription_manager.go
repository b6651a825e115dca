package ws

import (
	"net/url"
	"sort"
	"sync"
)

// Filter 订阅过滤条件，键值均需与负载顶层字段相等
type Filter map[string]string

// Key 规范化键：按键排序并转义后的查询串，值中的 & 与 = 不会与分隔符混淆
func (f Filter) Key() string {
	if len(f) == 0 {
		return ""
	}
	v := make(url.Values, len(f))
	for k, val := range f {
		v.Set(k, val)
	}
	return v.Encode()
}

// Matches 空过滤条件匹配所有负载
func (f Filter) Matches(fields map[string]any) bool {
	for k, want := range f {
		v, ok := fields[k]
		if !ok {
			return false
		}
		got, ok := scalarString(v)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (f Filter) clone() Filter {
	if f == nil {
		return nil
	}
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Subscription 订阅条目
type Subscription struct {
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	Filter   Filter `json:"filter,omitempty"`
}

// SubscriptionManager 主题订阅表
type SubscriptionManager struct {
	mu      sync.RWMutex
	topics  map[string]map[string]map[string]Filter // topic -> clientID -> filterKey -> filter
	clients map[string]map[string]int               // clientID -> topic -> 条目数
	entries map[string]int                          // clientID -> 条目总数
	max     int
}

// NewSubscriptionManager 创建订阅表，maxPerClient <= 0 表示不限
func NewSubscriptionManager(maxPerClient int) *SubscriptionManager {
	return &SubscriptionManager{
		topics:  make(map[string]map[string]map[string]Filter),
		clients: make(map[string]map[string]int),
		entries: make(map[string]int),
		max:     maxPerClient,
	}
}

// SetMaxPerClient 调整单客户端条目上限，已有条目不受影响
func (s *SubscriptionManager) SetMaxPerClient(max int) {
	s.mu.Lock()
	s.max = max
	s.mu.Unlock()
}

// Subscribe 订阅，(topic, client, filter) 重复订阅幂等
func (s *SubscriptionManager) Subscribe(clientID, topic string, filter Filter) error {
	key := filter.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	byClient := s.topics[topic]
	if byClient != nil {
		if _, exists := byClient[clientID][key]; exists {
			return nil
		}
	}
	if s.max > 0 && s.entries[clientID] >= s.max {
		return ErrQuotaExceeded
	}

	if byClient == nil {
		byClient = make(map[string]map[string]Filter)
		s.topics[topic] = byClient
	}
	filters := byClient[clientID]
	if filters == nil {
		filters = make(map[string]Filter)
		byClient[clientID] = filters
	}
	filters[key] = filter.clone()

	if s.clients[clientID] == nil {
		s.clients[clientID] = make(map[string]int)
	}
	s.clients[clientID][topic]++
	s.entries[clientID]++
	return nil
}

// Unsubscribe 取消该客户端在主题上的全部过滤条件，返回是否存在订阅
func (s *SubscriptionManager) Unsubscribe(clientID, topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(clientID, topic)
}

func (s *SubscriptionManager) removeLocked(clientID, topic string) bool {
	byClient := s.topics[topic]
	if byClient == nil {
		return false
	}
	filters, ok := byClient[clientID]
	if !ok {
		return false
	}
	delete(byClient, clientID)
	if len(byClient) == 0 {
		delete(s.topics, topic)
	}

	s.entries[clientID] -= len(filters)
	delete(s.clients[clientID], topic)
	if len(s.clients[clientID]) == 0 {
		delete(s.clients, clientID)
		delete(s.entries, clientID)
	}
	return true
}

// Clear 删除客户端的全部订阅
func (s *SubscriptionManager) Clear(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic := range s.clients[clientID] {
		s.removeLocked(clientID, topic)
	}
}

// SubscribersOf 主题的订阅者（已排序）
func (s *SubscriptionManager) SubscribersOf(topic string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byClient := s.topics[topic]
	out := make([]string, 0, len(byClient))
	for id := range byClient {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscriptions 主题的订阅条目快照
func (s *SubscriptionManager) Subscriptions(topic string) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for id, filters := range s.topics[topic] {
		for _, f := range filters {
			out = append(out, Subscription{ClientID: id, Topic: topic, Filter: f.clone()})
		}
	}
	return out
}

// TopicsOf 客户端订阅的主题（已排序）
func (s *SubscriptionManager) TopicsOf(clientID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics := s.clients[clientID]
	out := make([]string, 0, len(topics))
	for t := range topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// EntriesOf 客户端的订阅条目，用于会话快照
func (s *SubscriptionManager) EntriesOf(clientID string) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for topic := range s.clients[clientID] {
		for _, f := range s.topics[topic][clientID] {
			out = append(out, Subscription{ClientID: clientID, Topic: topic, Filter: f.clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Filter.Key() < out[j].Filter.Key()
	})
	return out
}

// CountOf 客户端的条目数
func (s *SubscriptionManager) CountOf(clientID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[clientID]
}

// TopicCount 有订阅者的主题数
func (s *SubscriptionManager) TopicCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}
