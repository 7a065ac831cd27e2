package watchdog

import (
	"sort"
	"sync"
	"time"
)

const (
	// alertModulus 静默主题每逢 WindowCount 为 3 的倍数时告警（即每三个静默窗口告警一次）
	alertModulus = 3
	// recoveryThreshold 恢复通知所需的最小 WindowCount
	recoveryThreshold = 3
)

// TopicState 已知主题的存活状态
//
// AlertActive=true 表示当前窗口尚未收到消息；WindowCount 每个窗口开始时加一，
// 窗口内首条消息到达时减一（去抖），恢复后清零。
type TopicState struct {
	Topic       string `json:"topic"`
	AlertActive bool   `json:"alert_active"`
	WindowCount int    `json:"window_count"`
}

// UnknownTopic 未声明主题的记录
type UnknownTopic struct {
	Topic       string    `json:"topic"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LastPayload string    `json:"last_payload"`
}

// AlertedTopic 需要告警的主题，Episode 为第几次告警（WindowCount / 3）
type AlertedTopic struct {
	Topic   string
	Episode int
}

// Evaluation 一次 tick 的评估结果
//
// State 是开启下一个窗口后、在同一临界区内取得的快照。
type Evaluation struct {
	At         time.Time
	Alerting   []AlertedTopic
	Recovered  []string
	NewUnknown []string
	State      Snapshot
}

// Empty 是否没有任何需要通知的内容
func (e Evaluation) Empty() bool {
	return len(e.Alerting) == 0 && len(e.Recovered) == 0 && len(e.NewUnknown) == 0
}

// Observation 消息归类
type Observation int

const (
	ObservedKnown Observation = iota
	ObservedUnknown
	ObservedIgnored
)

// Snapshot 状态快照
type Snapshot struct {
	At      time.Time      `json:"at"`
	Topics  []TopicState   `json:"topics"`
	Unknown []UnknownTopic `json:"unknown"`
}

// Store 主题状态存储
//
// 消息分发 goroutine 与 tick goroutine 都通过同一把锁访问；
// 一次 tick 的评估、清理与开启新窗口在同一个临界区内完成。
type Store struct {
	mu sync.Mutex

	order      []string
	known      map[string]*TopicState
	exceptions map[string]bool

	unknown    map[string]*UnknownTopic
	unknownTTL time.Duration

	// 上一次 tick 的快照
	lastAlerting map[string]bool
	lastUnknown  map[string]bool
}

// NewStore 创建状态存储，所有已知主题初始为 AlertActive=true、WindowCount=0
func NewStore(topics []string, exceptions []string, unknownTTL time.Duration) *Store {
	s := &Store{
		known:        make(map[string]*TopicState, len(topics)),
		exceptions:   make(map[string]bool, len(exceptions)),
		unknown:      make(map[string]*UnknownTopic),
		unknownTTL:   unknownTTL,
		lastAlerting: make(map[string]bool),
		lastUnknown:  make(map[string]bool),
	}
	for _, topic := range topics {
		if _, ok := s.known[topic]; ok {
			continue
		}
		s.order = append(s.order, topic)
		s.known[topic] = &TopicState{Topic: topic, AlertActive: true}
	}
	for _, topic := range exceptions {
		s.exceptions[topic] = true
	}
	return s
}

// Observe 记录一条消息的到达
func (s *Store) Observe(topic string, payload []byte, at time.Time) Observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.known[topic]; ok {
		if state.AlertActive {
			state.AlertActive = false
			if state.WindowCount > 0 {
				state.WindowCount--
			}
		}
		return ObservedKnown
	}

	if s.exceptions[topic] {
		return ObservedIgnored
	}

	record, ok := s.unknown[topic]
	if !ok {
		record = &UnknownTopic{Topic: topic, FirstSeenAt: at}
		s.unknown[topic] = record
	}
	record.LastSeenAt = at
	record.LastPayload = string(payload)
	return ObservedUnknown
}

// OpenWindow 开启新窗口：先假设所有主题静默
func (s *Store) OpenWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openWindowLocked()
}

func (s *Store) openWindowLocked() {
	for _, state := range s.known {
		state.AlertActive = true
		state.WindowCount++
	}
}

// Tick 结束当前窗口：评估、清理，然后开启下一个窗口
func (s *Store) Tick(now time.Time) Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()

	eval := Evaluation{At: now}

	// 1. 评估
	alerting := make(map[string]bool)
	for _, topic := range s.order {
		state := s.known[topic]
		if state.AlertActive {
			alerting[topic] = true
			if state.WindowCount%alertModulus == 0 {
				eval.Alerting = append(eval.Alerting, AlertedTopic{
					Topic:   topic,
					Episode: state.WindowCount / alertModulus,
				})
			}
		} else if state.WindowCount >= recoveryThreshold {
			eval.Recovered = append(eval.Recovered, topic)
		}
	}

	for topic := range s.unknown {
		if !s.lastUnknown[topic] {
			eval.NewUnknown = append(eval.NewUnknown, topic)
		}
	}
	sort.Strings(eval.NewUnknown)

	// 2. 上次静默、本次已恢复的主题重新计数
	for topic := range s.lastAlerting {
		if !alerting[topic] {
			s.known[topic].WindowCount = 0
		}
	}

	// 3. 清理过期的未知主题（不通知）
	expireBefore := now.Add(-s.unknownTTL)
	for topic, record := range s.unknown {
		if record.LastSeenAt.Before(expireBefore) {
			delete(s.unknown, topic)
		}
	}

	s.lastAlerting = alerting
	s.lastUnknown = make(map[string]bool, len(s.unknown))
	for topic := range s.unknown {
		s.lastUnknown[topic] = true
	}

	// 4. 开启下一个窗口
	s.openWindowLocked()

	eval.State = s.snapshotLocked(now)
	return eval
}

// Topic 返回单个已知主题的状态
func (s *Store) Topic(topic string) (TopicState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.known[topic]
	if !ok {
		return TopicState{}, false
	}
	return *state, true
}

// Snapshot 返回所有主题状态与未知主题记录的副本
func (s *Store) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now)
}

func (s *Store) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		At:      now,
		Topics:  make([]TopicState, 0, len(s.order)),
		Unknown: make([]UnknownTopic, 0, len(s.unknown)),
	}
	for _, topic := range s.order {
		snap.Topics = append(snap.Topics, *s.known[topic])
	}
	for _, record := range s.unknown {
		snap.Unknown = append(snap.Unknown, *record)
	}
	sort.Slice(snap.Unknown, func(i, j int) bool { return snap.Unknown[i].Topic < snap.Unknown[j].Topic })
	return snap
}
