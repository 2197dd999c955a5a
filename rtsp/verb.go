package rtsp

// Verb is a control request method.
type Verb int

const (
	Setup Verb = iota + 1
	Play
	Pause
	Teardown
)

// ParseVerb returns the Verb named by s. Unknown names yield a *ProtocolError.
func ParseVerb(s string) (Verb, error) {
	switch s {
	case "SETUP":
		return Setup, nil
	case "PLAY":
		return Play, nil
	case "PAUSE":
		return Pause, nil
	case "TEARDOWN":
		return Teardown, nil
	}
	return 0, &ProtocolError{CSeq: -1, Reason: "unknown verb " + quote(s)}
}

func (v Verb) String() string {
	switch v {
	case Setup:
		return "SETUP"
	case Play:
		return "PLAY"
	case Pause:
		return "PAUSE"
	case Teardown:
		return "TEARDOWN"
	}
	return "unknown"
}

// State is the playback state shared by both ends of a session.
type State int32

const (
	Init State = iota
	Ready
	Playing
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Ready:
		return "READY"
	case Playing:
		return "PLAYING"
	}
	return "unknown"
}

// Next returns the state a successful request for v leads to from s. The
// second return value is false if v is not valid in s. TEARDOWN is valid in
// every state and leads back to Init.
func (s State) Next(v Verb) (State, bool) {
	switch v {
	case Setup:
		if s == Init {
			return Ready, true
		}
	case Play:
		if s == Ready {
			return Playing, true
		}
	case Pause:
		if s == Playing {
			return Ready, true
		}
	case Teardown:
		return Init, true
	}
	return s, false
}
