package carousel

import (
	"errors"
	"math"
	"time"
)

var ErrNoSlides = errors.New("carousel: no slides")

const (
	DefaultInterval = 3500 * time.Millisecond
	DefaultHeight   = 260

	MinHeight   = 160
	MaxHeight   = 420
	MaxWidth    = 520
	AspectRatio = 1.3
	Gap         = 12

	// AxisLockPx is the movement needed before a gesture commits to an axis.
	AxisLockPx = 8
	// SwipeFraction of one step, capped at SwipeCeilingPx, turns a drag into navigation.
	SwipeFraction  = 0.22
	SwipeCeilingPx = 140
	// FlickVelocity in px/ms navigates regardless of distance.
	FlickVelocity = 0.5
)

type State int

const (
	Idle State = iota
	Animating
	Dragging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Animating:
		return "animating"
	case Dragging:
		return "dragging"
	default:
		return "unknown"
	}
}

type Axis int

const (
	AxisNone Axis = iota
	AxisHorizontal
	AxisVertical
)

type Config struct {
	// DisableAuto turns off timed advance.
	DisableAuto bool
	Interval    time.Duration
	// TargetHeight is clamped to [MinHeight, MaxHeight]; 0 means DefaultHeight.
	TargetHeight int
	// MaxPull clamps the drag offset in px; 0 leaves it unclamped.
	MaxPull float64
}

// Update describes what a host has to render after an input. Changed is false
// when the input was dropped.
type Update struct {
	Changed  bool
	Index    int
	Offset   float64
	Animated bool
	// Snapped marks a non-animated position correction (clone wrap, resize, resync).
	Snapped bool
	// PreventDefault asks the host to suppress page scrolling for this gesture.
	PreventDefault bool
	// Ceded reports that the gesture locked vertically and belongs to the page.
	Ceded bool
}

type drag struct {
	startX, startY float64
	lastX          float64
	startT         time.Time
	axis           Axis
	offset         float64
}

// Carousel is the position and gesture state of an infinitely looping strip.
// It is not safe for concurrent use; Player serializes access.
type Carousel struct {
	cfg  Config
	base []string
	loop []string

	index    int
	state    State
	ready    bool
	visible  bool
	measured float64
	drag     drag
}

func New(images []string, cfg Config) (*Carousel, error) {
	base := dedupe(images)
	if len(base) == 0 {
		return nil, ErrNoSlides
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TargetHeight == 0 {
		cfg.TargetHeight = DefaultHeight
	}
	if cfg.MaxPull < 0 {
		cfg.MaxPull = 0
	}

	c := &Carousel{cfg: cfg, base: base, visible: true}
	if len(base) == 1 {
		c.loop = []string{base[0]}
	} else {
		c.loop = make([]string, 0, len(base)+2)
		c.loop = append(c.loop, base[len(base)-1])
		c.loop = append(c.loop, base...)
		c.loop = append(c.loop, base[0])
		c.index = 1
	}
	return c, nil
}

func dedupe(images []string) []string {
	seen := make(map[string]struct{}, len(images))
	out := make([]string, 0, len(images))
	for _, img := range images {
		if img == "" {
			continue
		}
		if _, ok := seen[img]; ok {
			continue
		}
		seen[img] = struct{}{}
		out = append(out, img)
	}
	return out
}

func (c *Carousel) Config() Config { return c.cfg }
func (c *Carousel) Len() int       { return len(c.base) }
func (c *Carousel) Index() int     { return c.index }
func (c *Carousel) State() State   { return c.state }
func (c *Carousel) Ready() bool    { return c.ready }
func (c *Carousel) Visible() bool  { return c.visible }
func (c *Carousel) Looping() bool  { return len(c.base) > 1 }

func (c *Carousel) BaseSlides() []string { return append([]string(nil), c.base...) }
func (c *Carousel) LoopSlides() []string { return append([]string(nil), c.loop...) }

// ActiveDot is the position of the real slide currently shown.
func (c *Carousel) ActiveDot() int {
	n := len(c.base)
	if n <= 1 {
		return 0
	}
	return (c.index - 1 + n) % n
}

func (c *Carousel) SlideHeight() int {
	h := c.cfg.TargetHeight
	if h < MinHeight {
		h = MinHeight
	}
	if h > MaxHeight {
		h = MaxHeight
	}
	return h
}

func (c *Carousel) SlideWidth() int {
	w := int(math.Round(float64(c.SlideHeight()) * AspectRatio))
	if w > MaxWidth {
		w = MaxWidth
	}
	return w
}

// Step is the distance between two slide origins: the measured probe width,
// or the computed width before measurement, plus the gap.
func (c *Carousel) Step() float64 {
	w := c.measured
	if w <= 0 {
		w = float64(c.SlideWidth())
	}
	return w + Gap
}

func (c *Carousel) Offset() float64 {
	return -c.Step()*float64(c.index) + c.drag.offset
}

// Threshold is the drag distance that navigates on release.
func (c *Carousel) Threshold() float64 {
	return math.Min(c.Step()*SwipeFraction, SwipeCeilingPx)
}

// Measure records the on-screen probe width and marks the carousel ready.
// A non-positive width keeps the computed geometry.
func (c *Carousel) Measure(probeWidth float64) Update {
	if probeWidth > 0 {
		c.measured = probeWidth
	}
	c.ready = true
	return c.settle()
}

// Resize re-measures after a layout change and re-snaps without animation.
func (c *Carousel) Resize(probeWidth float64) Update {
	if probeWidth > 0 {
		c.measured = probeWidth
	}
	return c.settle()
}

// SetVisible records host visibility. Becoming visible re-syncs the position
// without animating, since layout may have changed while hidden.
func (c *Carousel) SetVisible(visible bool) Update {
	c.visible = visible
	if !visible {
		return Update{}
	}
	return c.settle()
}

func (c *Carousel) Next() Update { return c.GoTo(c.index + 1) }
func (c *Carousel) Prev() Update { return c.GoTo(c.index - 1) }

// GoToSlide navigates to the real slide at position i.
func (c *Carousel) GoToSlide(i int) Update {
	if !c.Looping() {
		return Update{}
	}
	return c.GoTo(i + 1)
}

// GoTo starts an animated move to loop position i. It is dropped unless the
// carousel is ready, idle and looping.
func (c *Carousel) GoTo(i int) Update {
	if !c.Looping() || !c.ready || c.state != Idle {
		return Update{}
	}
	if i < 0 || i >= len(c.loop) || i == c.index {
		return Update{}
	}
	c.index = i
	c.state = Animating
	return c.update(true)
}

// TransitionEnd completes an animation. Landing on a clone snaps to the real
// slide it stands in for.
func (c *Carousel) TransitionEnd() Update {
	if c.state != Animating {
		return Update{}
	}
	c.state = Idle
	if c.wrap() {
		u := c.update(false)
		u.Snapped = true
		return u
	}
	return Update{Changed: true, Index: c.index, Offset: c.Offset()}
}

// Tick is one autoplay interval.
func (c *Carousel) Tick() Update {
	if c.cfg.DisableAuto || !c.visible || c.state != Idle {
		return Update{}
	}
	return c.Next()
}

func (c *Carousel) PointerDown(x, y float64, t time.Time) Update {
	if !c.Looping() || c.state != Idle {
		return Update{}
	}
	c.state = Dragging
	c.drag = drag{startX: x, startY: y, lastX: x, startT: t}
	return Update{Changed: true, Index: c.index, Offset: c.Offset()}
}

func (c *Carousel) PointerMove(x, y float64, _ time.Time) Update {
	if c.state != Dragging {
		return Update{}
	}
	dx := x - c.drag.startX
	dy := y - c.drag.startY
	c.drag.lastX = x

	if c.drag.axis == AxisNone {
		if math.Max(math.Abs(dx), math.Abs(dy)) <= AxisLockPx {
			return Update{}
		}
		if math.Abs(dx) > math.Abs(dy) {
			c.drag.axis = AxisHorizontal
		} else {
			c.drag.axis = AxisVertical
		}
	}
	if c.drag.axis == AxisVertical {
		return Update{Changed: true, Index: c.index, Offset: c.Offset(), Ceded: true}
	}

	c.drag.offset = c.clampPull(dx)
	return Update{Changed: true, Index: c.index, Offset: c.Offset(), PreventDefault: true}
}

func (c *Carousel) clampPull(dx float64) float64 {
	if c.cfg.MaxPull <= 0 {
		return dx
	}
	return math.Max(-c.cfg.MaxPull, math.Min(c.cfg.MaxPull, dx))
}

// PointerUp ends a gesture. Only a horizontally locked drag can navigate.
func (c *Carousel) PointerUp(x, _ float64, t time.Time) Update {
	if c.state != Dragging {
		return Update{}
	}
	d := c.drag
	if d.axis != AxisHorizontal {
		return c.snapBack()
	}

	dx := x - d.startX
	var velocity float64
	if ms := float64(t.Sub(d.startT)) / float64(time.Millisecond); ms > 0 {
		velocity = dx / ms
	}
	threshold := c.Threshold()

	switch {
	case dx < -threshold || velocity <= -FlickVelocity:
		c.endDrag()
		return c.navigateOrSnap(c.index + 1)
	case dx > threshold || velocity >= FlickVelocity:
		c.endDrag()
		return c.navigateOrSnap(c.index - 1)
	default:
		return c.snapBack()
	}
}

// PointerCancel always snaps back.
func (c *Carousel) PointerCancel() Update {
	if c.state != Dragging {
		return Update{}
	}
	return c.snapBack()
}

func (c *Carousel) navigateOrSnap(i int) Update {
	if u := c.GoTo(i); u.Changed {
		return u
	}
	return c.update(true)
}

func (c *Carousel) snapBack() Update {
	moved := c.drag.offset != 0
	c.endDrag()
	return c.update(moved)
}

func (c *Carousel) endDrag() {
	c.drag = drag{}
	c.state = Idle
}

// settle abandons any gesture or transition and places the strip at rest.
func (c *Carousel) settle() Update {
	c.drag = drag{}
	c.state = Idle
	c.wrap()
	u := c.update(false)
	u.Snapped = true
	return u
}

func (c *Carousel) wrap() bool {
	if !c.Looping() {
		return false
	}
	switch c.index {
	case 0:
		c.index = len(c.base)
		return true
	case len(c.loop) - 1:
		c.index = 1
		return true
	}
	return false
}

func (c *Carousel) update(animated bool) Update {
	return Update{Changed: true, Index: c.index, Offset: c.Offset(), Animated: animated}
}
