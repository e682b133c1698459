package mirror

import (
	"sync"
	"time"

	"github.com/udisondev/realmsync/internal/model"
)

// TimedAnimator is a headless Animator that tracks playback from clip
// durations alone. Used by the observer binary and tests.
type TimedAnimator struct {
	mu        sync.Mutex
	durations map[Clip]time.Duration
	fallback  time.Duration
	now       func() time.Time
	playing   map[model.RowKey]playback
	plays     int
}

type playback struct {
	clip  Clip
	start time.Time
	loop  bool
}

// NewTimedAnimator creates an animator. Clips missing from durations last
// fallback.
func NewTimedAnimator(durations map[Clip]time.Duration, fallback time.Duration, now func() time.Time) *TimedAnimator {
	if now == nil {
		now = time.Now
	}
	d := make(map[Clip]time.Duration, len(durations))
	for k, v := range durations {
		d[k] = v
	}
	return &TimedAnimator{
		durations: d,
		fallback:  fallback,
		now:       now,
		playing:   make(map[model.RowKey]playback),
	}
}

// Play implements Animator.
func (a *TimedAnimator) Play(key model.RowKey, clip Clip, loop bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing[key] = playback{clip: clip, start: a.now(), loop: loop}
	a.plays++
}

// Playing implements Animator. A non-looping clip stops after its duration.
func (a *TimedAnimator) Playing(key model.RowKey) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.playing[key]
	if !ok {
		return false
	}
	return p.loop || a.now().Sub(p.start) < a.duration(p.clip)
}

// Duration implements Animator.
func (a *TimedAnimator) Duration(clip Clip) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration(clip)
}

func (a *TimedAnimator) duration(clip Clip) time.Duration {
	if d, ok := a.durations[clip]; ok {
		return d
	}
	return a.fallback
}

// Current returns the clip last played for key.
func (a *TimedAnimator) Current(key model.RowKey) (Clip, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.playing[key]
	return p.clip, ok
}

// Forget drops playback state of a removed entity.
func (a *TimedAnimator) Forget(key model.RowKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.playing, key)
}

// Plays returns how many times Play was called.
func (a *TimedAnimator) Plays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plays
}
