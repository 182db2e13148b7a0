package application

import (
	"errors"
	"sync"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

type frame struct {
	Event   entity.EventKind
	Payload any
}

// fakeTransport 内存中的分组，记录每个连接收到的内容
type fakeTransport struct {
	mu       sync.Mutex
	open     map[entity.ConnectionID]struct{}
	groups   map[string]map[entity.ConnectionID]struct{}
	received map[entity.ConnectionID][]frame
	fail     bool
}

var errTransportDown = errors.New("transport down")

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		open:     make(map[entity.ConnectionID]struct{}),
		groups:   make(map[string]map[entity.ConnectionID]struct{}),
		received: make(map[entity.ConnectionID][]frame),
	}
}

func (f *fakeTransport) Open(connID entity.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[connID] = struct{}{}
}

// Close 像真实传输层一样拆除分组成员关系
func (f *fakeTransport) Close(connID entity.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, connID)
	for name, members := range f.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(f.groups, name)
		}
	}
}

func (f *fakeTransport) AddToGroup(connID entity.ConnectionID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.groups[group]
	if !ok {
		members = make(map[entity.ConnectionID]struct{})
		f.groups[group] = members
	}
	members[connID] = struct{}{}
}

func (f *fakeTransport) RemoveFromGroup(connID entity.ConnectionID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], connID)
}

func (f *fakeTransport) EmitToConnection(connID entity.ConnectionID, event entity.EventKind, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errTransportDown
	}
	if _, ok := f.open[connID]; ok {
		f.received[connID] = append(f.received[connID], frame{event, payload})
	}
	return nil
}

func (f *fakeTransport) EmitToGroup(group string, event entity.EventKind, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errTransportDown
	}
	for c := range f.groups[group] {
		f.received[c] = append(f.received[c], frame{event, payload})
	}
	return nil
}

func (f *fakeTransport) BroadcastExcept(group string, event entity.EventKind, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errTransportDown
	}
	for c := range f.open {
		if _, excluded := f.groups[group][c]; excluded {
			continue
		}
		f.received[c] = append(f.received[c], frame{event, payload})
	}
	return nil
}

func (f *fakeTransport) SetFailing(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

// Frames 返回 connID 收到的帧，可只取指定事件
func (f *fakeTransport) Frames(connID entity.ConnectionID, only ...entity.EventKind) []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []frame
	for _, fr := range f.received[connID] {
		if len(only) == 0 || fr.Event == only[0] {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = make(map[entity.ConnectionID][]frame)
}

func (f *fakeTransport) Members(group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups[group])
}
