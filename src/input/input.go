package input

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-vgo/robotgo"

	"desktop-commander/src/apperr"
)

const (
	DefaultPause = 50 * time.Millisecond
	MinPause     = 10 * time.Millisecond
	MaxPause     = 500 * time.Millisecond

	glideStep = 10 * time.Millisecond
)

// Button is a mouse button name as understood by robotgo.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "center"
)

// ParseButton accepts left, right or middle. Empty means left.
func ParseButton(s string) (Button, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left":
		return ButtonLeft, nil
	case "right":
		return ButtonRight, nil
	case "middle", "center":
		return ButtonMiddle, nil
	default:
		return "", apperr.Invalid("use_mouse", "unknown mouse button %q", s)
	}
}

// Controller drives the pointer and keyboard. Every method blocks until the
// action has been sent to the OS.
type Controller interface {
	Move(x, y int, duration time.Duration)
	Click(button Button, clicks int, interval time.Duration)
	Drag(fromX, fromY, toX, toY int, button Button, duration time.Duration) error
	Scroll(amount int)
	TypeText(text string, interval time.Duration)
	PressKey(key string, presses int, interval time.Duration) error
	Hotkey(keys []string) error
	Location() (int, int)
	ScreenSize() (int, int)
	SetPause(d time.Duration) time.Duration
	Pause() time.Duration
}

// Robot is the robotgo-backed Controller.
type Robot struct {
	mu    sync.Mutex
	pause time.Duration
}

// NewRobot returns a controller with the given pause between actions,
// clamped to [MinPause, MaxPause].
func NewRobot(pause time.Duration) *Robot {
	r := &Robot{}
	r.SetPause(pause)
	return r
}

// ClampPause bounds d to the supported pause range.
func ClampPause(d time.Duration) time.Duration {
	if d < MinPause {
		return MinPause
	}
	if d > MaxPause {
		return MaxPause
	}
	return d
}

// SetPause changes the delay robotgo inserts after each mouse and keyboard
// action and returns the previous value.
func (r *Robot) SetPause(d time.Duration) time.Duration {
	d = ClampPause(d)

	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.pause
	r.pause = d
	robotgo.MouseSleep = int(d / time.Millisecond)
	robotgo.KeySleep = int(d / time.Millisecond)
	return old
}

func (r *Robot) Pause() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pause
}

// Move positions the cursor. A positive duration glides there in small steps.
func (r *Robot) Move(x, y int, duration time.Duration) {
	if duration <= 0 {
		robotgo.Move(x, y)
		return
	}
	fromX, fromY := robotgo.Location()
	for _, p := range glidePath(fromX, fromY, x, y, duration) {
		robotgo.Move(p[0], p[1])
		time.Sleep(glideStep)
	}
}

// Click presses button clicks times at the current position.
func (r *Robot) Click(button Button, clicks int, interval time.Duration) {
	if clicks <= 0 {
		clicks = 1
	}
	if clicks == 2 && interval <= 0 {
		robotgo.Click(string(button), true)
		return
	}
	for i := 0; i < clicks; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		robotgo.Click(string(button), false)
	}
}

// Drag presses button at (fromX, fromY), moves to (toX, toY) and releases.
func (r *Robot) Drag(fromX, fromY, toX, toY int, button Button, duration time.Duration) error {
	robotgo.Move(fromX, fromY)
	if err := robotgo.Toggle(string(button)); err != nil {
		return apperr.Unavailable("use_mouse", "mouse button press failed", err)
	}
	r.Move(toX, toY, duration)
	if err := robotgo.Toggle(string(button), "up"); err != nil {
		return apperr.Unavailable("use_mouse", "mouse button release failed", err)
	}
	log.Printf("Input: dragged (%d,%d) -> (%d,%d) with %s", fromX, fromY, toX, toY, button)
	return nil
}

// Scroll turns the wheel; positive amounts scroll up, negative down.
func (r *Robot) Scroll(amount int) {
	switch {
	case amount > 0:
		robotgo.ScrollDir(amount, "up")
	case amount < 0:
		robotgo.ScrollDir(-amount, "down")
	}
}

// TypeText types text. With a positive interval it types one rune at a time.
func (r *Robot) TypeText(text string, interval time.Duration) {
	if interval <= 0 {
		robotgo.TypeStr(text)
		return
	}
	for _, ch := range text {
		robotgo.TypeStr(string(ch))
		time.Sleep(interval)
	}
}

func (r *Robot) PressKey(key string, presses int, interval time.Duration) error {
	if presses <= 0 {
		presses = 1
	}
	name := NormalizeKey(key)
	for i := 0; i < presses; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		if err := robotgo.KeyTap(name); err != nil {
			return apperr.Invalid("use_keyboard", "key %q rejected: %v", key, err)
		}
	}
	return nil
}

// Hotkey taps the last key while holding every earlier key as a modifier.
func (r *Robot) Hotkey(keys []string) error {
	key, mods, err := SplitHotkey(keys)
	if err != nil {
		return err
	}
	if len(mods) == 0 {
		err = robotgo.KeyTap(key)
	} else {
		err = robotgo.KeyTap(key, mods)
	}
	if err != nil {
		return apperr.Invalid("use_keyboard", "hotkey %s rejected: %v", strings.Join(keys, "+"), err)
	}
	return nil
}

func (r *Robot) Location() (int, int) { return robotgo.Location() }

func (r *Robot) ScreenSize() (int, int) { return robotgo.GetScreenSize() }

// glidePath interpolates points from (x0,y0) to (x1,y1), one per glideStep,
// always ending exactly on the target.
func glidePath(x0, y0, x1, y1 int, duration time.Duration) [][2]int {
	steps := int(duration / glideStep)
	if steps < 1 {
		steps = 1
	}
	path := make([][2]int, 0, steps)
	for i := 1; i <= steps; i++ {
		path = append(path, [2]int{
			x0 + (x1-x0)*i/steps,
			y0 + (y1-y0)*i/steps,
		})
	}
	return path
}
