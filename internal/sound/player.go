// Package sound provides the click and alarm resources the dashboard plays.
package sound

// Sound names.
const (
	Click = "click"
	Alarm = "alarm"
)

// Actions sent to a Sink.
const (
	ActionPlay = "play"
	ActionStop = "stop"
)

// Player is one sound resource.
type Player interface {
	// Play starts the sound from its beginning.
	Play()
	// Stop pauses the sound and rewinds it to the beginning.
	Stop()
}

// Command tells a dashboard what to do with one of its sounds.
type Command struct {
	Sound  string `json:"sound" msgpack:"sound"`
	Action string `json:"action" msgpack:"action"`
	// Loop is set for sounds that repeat until stopped.
	Loop bool `json:"loop,omitempty" msgpack:"loop,omitempty"`
}

// Sink receives sound commands, typically to fan them out to browsers.
type Sink interface {
	SendSound(cmd Command)
}

// Broadcast is a Player whose playback happens wherever its Sink delivers to.
type Broadcast struct {
	name string
	loop bool
	sink Sink
}

// NewBroadcast creates a player for the named sound. A looping sound repeats
// until Stop.
func NewBroadcast(name string, loop bool, sink Sink) *Broadcast {
	return &Broadcast{name: name, loop: loop, sink: sink}
}

// Play implements Player.
func (b *Broadcast) Play() {
	b.sink.SendSound(Command{Sound: b.name, Action: ActionPlay, Loop: b.loop})
}

// Stop implements Player.
func (b *Broadcast) Stop() {
	b.sink.SendSound(Command{Sound: b.name, Action: ActionStop})
}

// Nop is a Player that does nothing.
type Nop struct{}

// Play implements Player.
func (Nop) Play() {}

// Stop implements Player.
func (Nop) Stop() {}
