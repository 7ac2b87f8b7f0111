package carousel

import (
	"log/slog"
	"sync"
	"time"
)

// Ticker is the subset of *time.Ticker the player needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Frame is the render state published to subscribers after every applied input.
type Frame struct {
	Update
	State     State
	ActiveDot int
}

type PlayerConfig struct {
	// AutoSettle completes every animation immediately, for hosts that never
	// report transition ends.
	AutoSettle bool

	NewTicker func(d time.Duration) Ticker
	Log       *slog.Logger
}

// Player drives a Carousel from one goroutine-safe surface: it owns the
// autoplay ticker and fans frames out to subscribers until Close.
type Player struct {
	mu     sync.Mutex
	c      *Carousel
	cfg    PlayerConfig
	log    *slog.Logger
	last   Frame
	subs   map[int]chan Frame
	nextID int
	closed bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewPlayer(c *Carousel, cfg PlayerConfig) *Player {
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	p := &Player{
		c:    c,
		cfg:  cfg,
		log:  log,
		subs: make(map[int]chan Frame),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	p.last = p.frameLocked(Update{Changed: true, Index: c.Index(), Offset: c.Offset()})

	if c.cfg.DisableAuto || !c.Looping() {
		close(p.done)
		return p
	}
	t := cfg.NewTicker(c.cfg.Interval)
	go p.run(t)
	return p
}

func (p *Player) run(t Ticker) {
	defer close(p.done)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C():
			p.Tick()
		}
	}
}

// Close stops the ticker and detaches every subscriber. It is safe to call
// more than once.
func (p *Player) Close() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done

		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = true
		for id, ch := range p.subs {
			delete(p.subs, id)
			close(ch)
		}
	})
}

// Subscribe returns a channel carrying the latest frame after each change.
// Slow readers only see the most recent frame.
func (p *Player) Subscribe() (<-chan Frame, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Frame, 1)
	ch <- p.last
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

// Frame returns the most recently published frame.
func (p *Player) Frame() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Config, BaseSlides and LoopSlides never change after New and need no lock.
func (p *Player) Config() Config       { return p.c.Config() }
func (p *Player) Looping() bool        { return p.c.Looping() }
func (p *Player) BaseSlides() []string { return p.c.BaseSlides() }
func (p *Player) LoopSlides() []string { return p.c.LoopSlides() }

func (p *Player) Geometry() (width, height, gap int) {
	return p.c.SlideWidth(), p.c.SlideHeight(), Gap
}

func (p *Player) Tick() Update { return p.apply(p.c.Tick) }
func (p *Player) Next() Update { return p.apply(p.c.Next) }
func (p *Player) Prev() Update { return p.apply(p.c.Prev) }

func (p *Player) GoTo(i int) Update {
	return p.apply(func() Update { return p.c.GoTo(i) })
}

func (p *Player) GoToSlide(i int) Update {
	return p.apply(func() Update { return p.c.GoToSlide(i) })
}

func (p *Player) TransitionEnd() Update { return p.apply(p.c.TransitionEnd) }

func (p *Player) Measure(probeWidth float64) Update {
	return p.apply(func() Update { return p.c.Measure(probeWidth) })
}

func (p *Player) Resize(probeWidth float64) Update {
	return p.apply(func() Update { return p.c.Resize(probeWidth) })
}

func (p *Player) SetVisible(visible bool) Update {
	return p.apply(func() Update { return p.c.SetVisible(visible) })
}

func (p *Player) PointerDown(x, y float64, t time.Time) Update {
	return p.apply(func() Update { return p.c.PointerDown(x, y, t) })
}

func (p *Player) PointerMove(x, y float64, t time.Time) Update {
	return p.apply(func() Update { return p.c.PointerMove(x, y, t) })
}

func (p *Player) PointerUp(x, y float64, t time.Time) Update {
	return p.apply(func() Update { return p.c.PointerUp(x, y, t) })
}

func (p *Player) PointerCancel() Update { return p.apply(p.c.PointerCancel) }

func (p *Player) apply(fn func() Update) Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Update{}
	}

	u := fn()
	if !u.Changed {
		return u
	}
	p.publishLocked(u)

	if p.cfg.AutoSettle && p.c.State() == Animating {
		if end := p.c.TransitionEnd(); end.Changed {
			p.publishLocked(end)
			if end.Snapped {
				p.log.Debug("carousel wrapped", "index", end.Index)
			}
		}
	}
	return u
}

func (p *Player) publishLocked(u Update) {
	p.last = p.frameLocked(u)
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- p.last
	}
}

func (p *Player) frameLocked(u Update) Frame {
	return Frame{Update: u, State: p.c.State(), ActiveDot: p.c.ActiveDot()}
}
