package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

const interval = 20 * time.Second

// newStartedStore 模拟调度器启动：创建后立即开启第一个窗口
func newStartedStore(topics ...string) *Store {
	s := NewStore(topics, []string{"ET7044/write"}, 3*time.Minute)
	s.OpenWindow()
	return s
}

func tickAt(s *Store, n int) Evaluation {
	return s.Tick(t0.Add(time.Duration(n) * interval))
}

func alertedTopics(e Evaluation) []string {
	var out []string
	for _, a := range e.Alerting {
		out = append(out, a.Topic)
	}
	return out
}

func TestStore_InitialState(t *testing.T) {
	s := NewStore([]string{"DL303/TC", "current", "DL303/TC"}, nil, 3*time.Minute)

	snap := s.Snapshot(t0)
	require.Len(t, snap.Topics, 2, "duplicate watch-list entries collapse")
	assert.Equal(t, TopicState{Topic: "DL303/TC", AlertActive: true, WindowCount: 0}, snap.Topics[0])
	assert.Empty(t, snap.Unknown)
}

func TestStore_AlertOnThirdConsecutiveSilentTick(t *testing.T) {
	s := newStartedStore("DL303/TC")

	assert.Empty(t, tickAt(s, 1).Alerting, "no alert on 1st silent tick")
	assert.Empty(t, tickAt(s, 2).Alerting, "no alert on 2nd silent tick")

	third := tickAt(s, 3)
	require.Len(t, third.Alerting, 1)
	assert.Equal(t, AlertedTopic{Topic: "DL303/TC", Episode: 1}, third.Alerting[0])
}

// 告警条件 AlertActive && WindowCount%3==0 按原有行为保留：
// 持续静默时每三个窗口重复告警一次，Episode 递增。
func TestStore_ModuloThreeAlertRepeatsEveryThirdSilentTick(t *testing.T) {
	s := newStartedStore("current")

	var episodes []int
	var alertTicks []int
	for n := 1; n <= 9; n++ {
		for _, a := range tickAt(s, n).Alerting {
			alertTicks = append(alertTicks, n)
			episodes = append(episodes, a.Episode)
		}
	}
	assert.Equal(t, []int{3, 6, 9}, alertTicks)
	assert.Equal(t, []int{1, 2, 3}, episodes)
}

func TestStore_LiveTopicNeverAlerts(t *testing.T) {
	s := newStartedStore("waterTank")

	for n := 1; n <= 10; n++ {
		s.Observe("waterTank", []byte(`{"current":5}`), t0.Add(time.Duration(n)*interval-time.Second))
		eval := tickAt(s, n)
		assert.True(t, eval.Empty(), "tick %d", n)
	}
	state, _ := s.Topic("waterTank")
	assert.Equal(t, 1, state.WindowCount)
	assert.True(t, state.AlertActive)
}

func TestStore_MessageDebouncesWindowIncrement(t *testing.T) {
	s := newStartedStore("DL303/RH")
	tickAt(s, 1)
	tickAt(s, 2)
	tickAt(s, 3) // 告警

	before, _ := s.Topic("DL303/RH")
	require.True(t, before.AlertActive)
	require.Equal(t, 4, before.WindowCount)

	s.Observe("DL303/RH", []byte("55.3"), t0.Add(3*interval+time.Second))
	after, _ := s.Topic("DL303/RH")
	assert.False(t, after.AlertActive)
	assert.Equal(t, before.WindowCount-1, after.WindowCount)

	// 同一窗口内后续消息不再减少计数
	s.Observe("DL303/RH", []byte("55.4"), t0.Add(3*interval+2*time.Second))
	again, _ := s.Topic("DL303/RH")
	assert.Equal(t, after.WindowCount, again.WindowCount)
}

func TestStore_RecoveryReportedOnceThenCountResets(t *testing.T) {
	s := newStartedStore("UPS/A/Monitor")
	tickAt(s, 1)
	tickAt(s, 2)
	require.Len(t, tickAt(s, 3).Alerting, 1)

	s.Observe("UPS/A/Monitor", []byte(`{}`), t0.Add(3*interval+time.Second))
	recovered := tickAt(s, 4)
	assert.Equal(t, []string{"UPS/A/Monitor"}, recovered.Recovered)
	assert.Empty(t, recovered.Alerting)

	state, _ := s.Topic("UPS/A/Monitor")
	assert.Equal(t, 1, state.WindowCount, "count reset to 0, then the next window opened")

	s.Observe("UPS/A/Monitor", []byte(`{}`), t0.Add(4*interval+time.Second))
	assert.Empty(t, tickAt(s, 5).Recovered, "recovery is reported exactly once")
}

func TestStore_ShortSilenceResetsWithoutNotification(t *testing.T) {
	s := newStartedStore("current")
	tickAt(s, 1) // 静默一个窗口

	s.Observe("current", []byte(`{}`), t0.Add(interval+time.Second))
	eval := tickAt(s, 2)
	assert.True(t, eval.Empty())

	state, _ := s.Topic("current")
	assert.Equal(t, 1, state.WindowCount)

	// 重新静默时从零开始计数
	assert.Empty(t, tickAt(s, 3).Alerting)
	assert.Empty(t, tickAt(s, 4).Alerting)
	assert.Equal(t, []string{"current"}, alertedTopics(tickAt(s, 5)))
}

func TestStore_WindowCountNeverNegative(t *testing.T) {
	s := NewStore([]string{"DL303/TC"}, nil, 3*time.Minute)
	// 第一个窗口开启前到达的消息
	s.Observe("DL303/TC", []byte("1"), t0)
	state, _ := s.Topic("DL303/TC")
	assert.Equal(t, 0, state.WindowCount)
	assert.False(t, state.AlertActive)
}

func TestStore_UnknownTopicReportedOnceAndPurged(t *testing.T) {
	s := newStartedStore("DL303/TC")
	seenAt := t0.Add(10 * time.Second)

	assert.Equal(t, ObservedUnknown, s.Observe("camera/power", []byte("on"), seenAt))

	first := tickAt(s, 1)
	assert.Equal(t, []string{"camera/power"}, first.NewUnknown)

	// 3 分钟内不再通知
	for n := 2; n <= 9; n++ {
		assert.Empty(t, tickAt(s, n).NewUnknown, "tick %d", n)
	}
	snap := s.Snapshot(t0.Add(9 * interval))
	require.Len(t, snap.Unknown, 1)
	assert.Equal(t, "on", snap.Unknown[0].LastPayload)

	// 超过 3 分钟：静默清理
	purge := tickAt(s, 10)
	assert.Empty(t, purge.NewUnknown)
	assert.Empty(t, s.Snapshot(t0.Add(10*interval)).Unknown)
	assert.Empty(t, tickAt(s, 11).NewUnknown, "purged topic does not reappear on its own")

	// 清理后再次出现则重新通知
	s.Observe("camera/power", []byte("off"), t0.Add(11*interval+time.Second))
	assert.Equal(t, []string{"camera/power"}, tickAt(s, 12).NewUnknown)
}

func TestStore_UnknownTopicKeptAliveByMessages(t *testing.T) {
	s := newStartedStore("DL303/TC")

	for n := 1; n <= 15; n++ {
		s.Observe("sensor/new", []byte("x"), t0.Add(time.Duration(n)*interval-time.Second))
		eval := tickAt(s, n)
		if n == 1 {
			assert.Equal(t, []string{"sensor/new"}, eval.NewUnknown)
		} else {
			assert.Empty(t, eval.NewUnknown)
		}
	}

	snap := s.Snapshot(t0.Add(15 * interval))
	require.Len(t, snap.Unknown, 1)
	assert.Equal(t, t0.Add(interval-time.Second), snap.Unknown[0].FirstSeenAt)
}

func TestStore_ExceptionTopicsIgnored(t *testing.T) {
	s := newStartedStore("DL303/TC")

	assert.Equal(t, ObservedIgnored, s.Observe("ET7044/write", []byte("[true]"), t0))
	assert.Equal(t, ObservedKnown, s.Observe("DL303/TC", []byte("25"), t0))
	assert.Empty(t, tickAt(s, 1).NewUnknown)
}

func TestStore_AlertOrderFollowsWatchList(t *testing.T) {
	s := newStartedStore("waterTank", "DL303/TC", "current")
	tickAt(s, 1)
	tickAt(s, 2)
	assert.Equal(t, []string{"waterTank", "DL303/TC", "current"}, alertedTopics(tickAt(s, 3)))
}

func TestStore_TickReturnsStateOfNewWindow(t *testing.T) {
	s := newStartedStore("DL303/TC", "current")
	s.Observe("current", []byte(`{}`), t0.Add(time.Second))
	s.Observe("camera/power", []byte("on"), t0.Add(time.Second))

	eval := tickAt(s, 1)
	require.Len(t, eval.State.Topics, 2)
	assert.Equal(t, TopicState{Topic: "DL303/TC", AlertActive: true, WindowCount: 2}, eval.State.Topics[0])
	assert.Equal(t, TopicState{Topic: "current", AlertActive: true, WindowCount: 1}, eval.State.Topics[1])
	require.Len(t, eval.State.Unknown, 1)
	assert.Equal(t, t0.Add(interval), eval.State.At)

	// 之后到达的消息不影响已返回的快照
	s.Observe("DL303/TC", []byte("25.0"), t0.Add(interval+time.Second))
	assert.True(t, eval.State.Topics[0].AlertActive)
	assert.Equal(t, 2, eval.State.Topics[0].WindowCount)
}
