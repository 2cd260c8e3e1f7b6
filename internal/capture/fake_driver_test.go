package capture

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
)

const frameInterval = 33333333 * time.Nanosecond

func einval(req string) error {
	return &v4l2.IoctlError{Request: req, Errno: syscall.EINVAL}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now Timestamp
}

func (c *fakeClock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Resolution() time.Duration { return time.Nanosecond }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += Timestamp(d)
	c.mu.Unlock()
}

// fakeDriver simulates a read/write capture node producing one frame per
// interval and a small control space.
//
// With clock set, frames are always ready and every read advances the
// clock by one interval. Otherwise frames are paced in real time.
type fakeDriver struct {
	mu sync.Mutex

	caps      v4l2.Capability
	capErr    error
	cropErr   error
	formatErr error
	adjust    func(v4l2.PixFormat) v4l2.PixFormat
	formats   []v4l2.FormatInfo

	controls  map[uint32]v4l2.ControlInfo
	menus     map[uint32]map[uint32]string
	values    map[uint32]int32
	menuCalls map[uint32]int

	interval time.Duration
	jitter   time.Duration // added to odd frames and taken from even ones
	clock    *fakeClock
	next     time.Time
	seq      byte
	reads    int
	eagains  int
	eagainN  int // reads that fail with EAGAIN before the next frame
	waitErr  error
	readErr  error

	closeCalls int

	active  atomic.Int32
	overlap atomic.Bool
}

func newFakeDriver() *fakeDriver {
	f := &fakeDriver{
		caps: v4l2.Capability{
			Driver:       "vivid",
			Card:         "Fake Camera",
			BusInfo:      "platform:vivid-000",
			Version:      6<<16 | 1<<8,
			Capabilities: v4l2.CapVideoCapture | v4l2.CapReadWrite | v4l2.CapStreaming,
		},
		formats: []v4l2.FormatInfo{
			{Index: 0, PixelFormat: v4l2.PixFmtRGB24, FormatName: "24-bit RGB 8-8-8"},
			{Index: 1, PixelFormat: v4l2.PixFmtMJPEG, FormatName: "Motion-JPEG", Compressed: true},
		},
		controls:  make(map[uint32]v4l2.ControlInfo),
		menus:     make(map[uint32]map[uint32]string),
		values:    make(map[uint32]int32),
		menuCalls: make(map[uint32]int),
		interval:  frameInterval,
	}

	f.addControl(v4l2.ControlInfo{ID: v4l2.CIDBrightness, Type: v4l2.CtrlTypeInteger, Name: "Brightness",
		Minimum: 0, Maximum: 255, Step: 1, Default: 128})
	f.addControl(v4l2.ControlInfo{ID: v4l2.CIDHFlip, Type: v4l2.CtrlTypeBoolean, Name: "Horizontal Flip",
		Minimum: 0, Maximum: 1, Step: 1, Default: 0})
	f.addControl(v4l2.ControlInfo{ID: v4l2.CIDBase + 24, Type: v4l2.CtrlTypeMenu, Name: "Power Line Frequency",
		Minimum: 0, Maximum: 3, Step: 1, Default: 1})
	f.menus[v4l2.CIDBase+24] = map[uint32]string{0: "Disabled", 1: "50 Hz", 3: "Auto"}
	f.addControl(v4l2.ControlInfo{ID: v4l2.CIDBase + 30, Type: v4l2.CtrlTypeMenu, Name: "Color Effects",
		Minimum: 0, Maximum: 1, Step: 1, Flags: v4l2.CtrlFlagDisabled})
	f.menus[v4l2.CIDBase+30] = map[uint32]string{0: "None", 1: "Sepia"}

	for i := uint32(0); i < 5; i++ {
		f.addControl(v4l2.ControlInfo{ID: v4l2.CIDPrivateBase + i, Type: v4l2.CtrlTypeInteger,
			Name: "Private " + string(rune('A'+i)), Minimum: -10, Maximum: 10, Step: 1})
	}
	return f
}

func (f *fakeDriver) addControl(info v4l2.ControlInfo) {
	f.controls[info.ID] = info
	f.values[info.ID] = info.Default
}

func (f *fakeDriver) opener() Opener {
	return func(string) (Driver, error) { return f, nil }
}

// enter marks the start of a request that must not overlap another one.
func (f *fakeDriver) enter() func() {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	return func() { f.active.Add(-1) }
}

func (f *fakeDriver) QueryCapability() (v4l2.Capability, error) {
	defer f.enter()()
	if f.capErr != nil {
		return v4l2.Capability{}, f.capErr
	}
	return f.caps, nil
}

func (f *fakeDriver) ResetCrop() error {
	defer f.enter()()
	return f.cropErr
}

func (f *fakeDriver) SetFormat(req v4l2.PixFormat) (v4l2.PixFormat, error) {
	defer f.enter()()
	if f.formatErr != nil {
		return v4l2.PixFormat{}, f.formatErr
	}
	if f.adjust != nil {
		return f.adjust(req), nil
	}
	eff := req
	eff.BytesPerLine = req.Width * 3
	eff.SizeImage = eff.BytesPerLine * req.Height
	return eff, nil
}

func (f *fakeDriver) EnumFormat(index uint32) (v4l2.FormatInfo, error) {
	defer f.enter()()
	if int(index) >= len(f.formats) {
		return v4l2.FormatInfo{}, einval("VIDIOC_ENUM_FMT")
	}
	return f.formats[index], nil
}

func (f *fakeDriver) QueryControl(id uint32) (v4l2.ControlInfo, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.controls[id]
	if !ok {
		return v4l2.ControlInfo{}, einval("VIDIOC_QUERYCTRL")
	}
	return info, nil
}

func (f *fakeDriver) QueryMenu(id, index uint32) (v4l2.MenuItem, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menuCalls[id]++
	name, ok := f.menus[id][index]
	if !ok {
		return v4l2.MenuItem{}, einval("VIDIOC_QUERYMENU")
	}
	return v4l2.MenuItem{ID: id, Index: index, Name: name}, nil
}

func (f *fakeDriver) GetControl(id uint32) (int32, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[id]
	if !ok {
		return 0, einval("VIDIOC_G_CTRL")
	}
	return v, nil
}

func (f *fakeDriver) SetControl(id uint32, value int32) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.controls[id]
	if !ok {
		return einval("VIDIOC_S_CTRL")
	}
	f.values[id] = min(max(value, info.Minimum), info.Maximum)
	return nil
}

func (f *fakeDriver) WaitReadable(timeout time.Duration) (bool, error) {
	f.mu.Lock()
	err, virtual, next := f.waitErr, f.clock != nil, f.next
	f.mu.Unlock()

	if err != nil {
		return false, err
	}
	if virtual {
		return true, nil
	}
	wait := time.Until(next)
	if wait > timeout {
		time.Sleep(timeout)
		return false, nil
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	return true, nil
}

func (f *fakeDriver) Read(p []byte) (int, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return 0, f.readErr
	}
	if f.eagainN > 0 {
		f.eagainN--
		f.eagains++
		return 0, syscall.EAGAIN
	}
	if f.clock != nil {
		step := f.interval + f.jitter
		if f.seq%2 == 1 {
			step = f.interval - f.jitter
		}
		f.clock.Advance(step)
	} else {
		now := time.Now()
		if now.Before(f.next) {
			f.eagains++
			return 0, syscall.EAGAIN
		}
		f.next = now.Add(f.interval)
	}

	f.seq++
	for i := range p {
		p[i] = f.seq
	}
	f.reads++
	return len(p), nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeDriver) setWaitErr(err error) {
	f.mu.Lock()
	f.waitErr = err
	f.mu.Unlock()
}

func (f *fakeDriver) setReadErr(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *fakeDriver) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeDriver) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testDeviceSeq atomic.Int32

// openFake opens a device on f. Metrics are labelled per device path, so
// every test device gets its own path.
func openFake(t *testing.T, f *fakeDriver, mutate func(*Config), opts ...Option) *Device {
	t.Helper()
	cfg := DefaultConfig(fmt.Sprintf("/dev/video-fake%d", testDeviceSeq.Add(1)))
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithOpener(f.opener()), WithLogger(discardLogger())}, opts...)
	d, err := Open(cfg, opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if d.State() == StateOpen {
			_ = d.Close()
		}
	})
	return d
}

// fatalRecorder collects errors passed to the fatal handler.
func fatalRecorder() (Option, <-chan error) {
	ch := make(chan error, 1)
	return WithFatalHandler(func(err error) {
		select {
		case ch <- err:
		default:
		}
	}), ch
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
