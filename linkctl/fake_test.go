package linkctl

import (
	"sync"
	"time"
)

// fakeChannel records every command and lets tests inject unsolicited
// lines, either synchronously or from another goroutine.
type fakeChannel struct {
	mu       sync.Mutex
	calls    []string
	handler  func(string)
	failOn   map[string]error
	replies  map[string][]string
	onWrite  func(cmd string)
	overlaps int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		failOn:  map[string]error{},
		replies: map[string][]string{},
	}
}

func (f *fakeChannel) Write(cmd string) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	err := f.failOn[cmd]
	hook := f.onWrite
	f.mu.Unlock()

	if err == nil && hook != nil {
		hook(cmd)
	}
	return err
}

func (f *fakeChannel) Command(cmd string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if err := f.failOn[cmd]; err != nil {
		return nil, err
	}
	return f.replies[cmd], nil
}

func (f *fakeChannel) SetNotificationHandler(h func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h != nil && f.handler != nil {
		f.overlaps++
	}
	f.handler = h
}

func (f *fakeChannel) notify(line string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(line)
	}
}

func (f *fakeChannel) notifyAfter(d time.Duration, lines ...string) {
	go func() {
		time.Sleep(d)
		for _, l := range lines {
			f.notify(l)
		}
	}()
}

func (f *fakeChannel) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeChannel) hasHandler() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeChannel) count(cmd string) int {
	n := 0
	for _, c := range f.history() {
		if c == cmd {
			n++
		}
	}
	return n
}
