// Package countdown はキャッシュした終了時刻から残り時間を定期的に再計算する。
package countdown

import (
	"fmt"
	"sync"
	"time"

	"auction-onchain/model"
)

// Render は終了時刻 (unix 秒) と現在時刻から表示文字列を作る。
// 終了時刻を過ぎていれば ended が true になる。
func Render(endTime int64, now time.Time) (text string, ended bool) {
	remaining := endTime - now.Unix()
	if remaining <= 0 {
		return model.StatusTextEnded, true
	}
	days := remaining / 86400
	hours := (remaining % 86400) / 3600
	minutes := (remaining % 3600) / 60
	seconds := remaining % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds), false
}

type Countdown struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	endTime int64
	text    string
	stop    chan struct{}
	subs    map[chan string]struct{}
}

func New(interval time.Duration) *Countdown {
	return &Countdown{
		interval: interval,
		now:      time.Now,
		text:     model.StatusTextEnded,
		subs:     map[chan string]struct{}{},
	}
}

// Start は前のタイマーを止めてから endTime へのカウントダウンを開始する。
// 同じ endTime で動作中なら何もしない。
func (c *Countdown) Start(endTime int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil && c.endTime == endTime {
		return
	}
	c.stopLocked()

	c.endTime = endTime
	text, ended := Render(endTime, c.now())
	c.setLocked(text)
	if ended {
		return
	}

	stop := make(chan struct{})
	c.stop = stop
	go c.run(stop)
}

// Stop はタイマーを止め、表示を終了状態にする
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.setLocked(model.StatusTextEnded)
}

// Text は現在の表示文字列を返す
func (c *Countdown) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Running はタイマーが動作中かを返す
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Subscribe は表示更新を受け取るチャネルを返す。不要になったら cancel を呼ぶ
func (c *Countdown) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 1)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.text
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

func (c *Countdown) run(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.stop != stop {
				c.mu.Unlock()
				return
			}
			text, ended := Render(c.endTime, c.now())
			c.setLocked(text)
			if ended {
				c.stopLocked()
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

func (c *Countdown) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// setLocked は表示を更新して購読者に通知する (遅い購読者には最新値のみ残す)
func (c *Countdown) setLocked(text string) {
	c.text = text
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- text:
		default:
		}
	}
}
