//go:build linux

// Package hotplug watches kernel uevents over netlink so capture nodes that
// disappear (USB cameras being unplugged) can be shut down cleanly.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Uevent actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// SubsystemVideo4Linux is the uevent subsystem of V4L2 device nodes.
const SubsystemVideo4Linux = "video4linux"

// Event is a parsed kernel uevent.
type Event struct {
	Action    string
	KObj      string // kernel object path, /devices/...
	Subsystem string
	DevName   string // node name relative to /dev, e.g. "video0"
	Env       map[string]string
}

// Node returns the /dev path of the event's device node, or "" if the event
// carries no DEVNAME.
func (e Event) Node() string {
	if e.DevName == "" {
		return ""
	}
	if strings.HasPrefix(e.DevName, "/") {
		return e.DevName
	}
	return "/dev/" + e.DevName
}

// IsVideoRemoval reports whether e announces a V4L2 node going away.
func (e Event) IsVideoRemoval() bool {
	return e.Action == ActionRemove && e.Subsystem == SubsystemVideo4Linux && e.DevName != ""
}

// Monitor listens for kernel device events via netlink.
type Monitor struct {
	fd        int
	filters   map[string]struct{}
	filtersMu sync.RWMutex
}

const netlinkKobjectUEvent = unix.NETLINK_KOBJECT_UEVENT

// NewMonitor opens a netlink socket bound to the kernel uevent broadcast group.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	// Recvfrom wakes at least once a second so Run can notice cancellation.
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Monitor{fd: fd, filters: make(map[string]struct{})}, nil
}

// AddSubsystemFilter restricts Run to events of the given subsystem. Without
// filters every event passes. Safe for concurrent use.
func (m *Monitor) AddSubsystemFilter(subsystem string) {
	m.filtersMu.Lock()
	m.filters[subsystem] = struct{}{}
	m.filtersMu.Unlock()
}

func (m *Monitor) accepts(subsystem string) bool {
	m.filtersMu.RLock()
	defer m.filtersMu.RUnlock()
	if len(m.filters) == 0 {
		return true
	}
	_, ok := m.filters[subsystem]
	return ok
}

// Close releases the socket.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

// Run delivers events until ctx is cancelled or the socket fails. The events
// channel is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		event := ParseUEvent(buf[:n])
		if event == nil || !m.accepts(event.Subsystem) {
			continue
		}

		select {
		case events <- *event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WatchRemovals runs the monitor filtered to video4linux and calls onRemove
// with the /dev path of every node that is removed. It returns when ctx is
// cancelled or the monitor fails.
func (m *Monitor) WatchRemovals(ctx context.Context, onRemove func(node string)) error {
	m.AddSubsystemFilter(SubsystemVideo4Linux)

	events := make(chan Event, 16)
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, events) }()

	for ev := range events {
		if ev.IsVideoRemoval() {
			onRemove(ev.Node())
		}
	}
	return <-errc
}

// ParseUEvent parses a kernel uevent message of the form
// "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0...". Messages rebroadcast by libudev
// carry a binary header which is skipped. Returns nil for malformed input.
func ParseUEvent(data []byte) *Event {
	if len(data) == 0 {
		return nil
	}

	if bytes.HasPrefix(data, []byte("libudev")) {
		for i := 0; i < len(data)-1; i++ {
			if data[i] != 0 {
				continue
			}
			rest := data[i+1:]
			if idx := bytes.IndexByte(rest, '@'); idx > 0 && idx < 20 {
				data = rest
				break
			}
		}
	}

	parts := bytes.Split(data, []byte{0})
	header := string(parts[0])
	action, kobj, ok := strings.Cut(header, "@")
	if !ok || action == "" {
		return nil
	}

	event := &Event{Action: action, KObj: kobj, Env: make(map[string]string)}
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(string(part), "=")
		if !ok || key == "" {
			continue
		}
		event.Env[key] = value

		switch key {
		case "SUBSYSTEM":
			event.Subsystem = value
		case "DEVNAME":
			event.DevName = value
		}
	}

	return event
}
