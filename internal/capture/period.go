package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"syscall"
	"time"
)

// Period summarizes the interval between successive frames.
type Period struct {
	Mean    time.Duration
	StdDev  time.Duration // population standard deviation
	Samples int           // number of intervals measured
}

// DetermineCapturePeriod reads frames into a private buffer for duration,
// measured on the device clock, and reports the mean and spread of the
// intervals between them. It fails with ErrCapturing while the capture
// loop runs and with ErrReadTimeout when no frame arrives within
// Config.ReadTimeout.
func (d *Device) DetermineCapturePeriod(ctx context.Context, duration time.Duration) (Period, error) {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()

	if d.closed.Load() {
		return Period{}, ErrClosed
	}
	if d.IsCapturing() {
		return Period{}, ErrCapturing
	}

	scratch := make([]byte, d.bufferSize)
	var stamps []Timestamp
	start := d.clock.Now()
	for d.clock.Now().Sub(start) < duration {
		if err := ctx.Err(); err != nil {
			return Period{}, err
		}

		ready, err := d.drv.WaitReadable(d.cfg.ReadTimeout)
		switch {
		case errors.Is(err, syscall.EINTR):
			continue
		case err != nil:
			return Period{}, fmt.Errorf("wait for frame: %w", err)
		case !ready:
			return Period{}, fmt.Errorf("%w after %s", ErrReadTimeout, d.cfg.ReadTimeout)
		}

		d.ioMu.Lock()
		n, err := d.drv.Read(scratch)
		d.ioMu.Unlock()
		switch {
		case errors.Is(err, syscall.EAGAIN), err == nil && n == 0:
			continue
		case err != nil:
			return Period{}, fmt.Errorf("read frame: %w", err)
		}
		stamps = append(stamps, d.clock.Now())
	}

	p, err := periodOf(stamps)
	if err != nil {
		return Period{}, err
	}
	d.logger.Info("Measured capture period",
		"mean", p.Mean,
		"stddev", p.StdDev,
		"samples", p.Samples)
	return p, nil
}

// periodOf computes the mean and population standard deviation of the
// gaps between consecutive stamps.
func periodOf(stamps []Timestamp) (Period, error) {
	if len(stamps) < 2 {
		return Period{}, fmt.Errorf("%w: %d frames", ErrNotEnoughSamples, len(stamps))
	}

	n := len(stamps) - 1
	var sum float64
	for i := 1; i < len(stamps); i++ {
		sum += float64(stamps[i].Sub(stamps[i-1]))
	}
	mean := sum / float64(n)

	var sq float64
	for i := 1; i < len(stamps); i++ {
		dev := float64(stamps[i].Sub(stamps[i-1])) - mean
		sq += dev * dev
	}

	return Period{
		Mean:    time.Duration(math.Round(mean)),
		StdDev:  time.Duration(math.Round(math.Sqrt(sq / float64(n)))),
		Samples: n,
	}, nil
}
