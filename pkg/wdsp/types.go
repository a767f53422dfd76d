package wdsp

import (
	"fmt"
	"strings"
)

// ChannelType selects which stage set a channel runs.
type ChannelType int

const (
	TypeRX ChannelType = 0
	TypeTX ChannelType = 1
)

func (t ChannelType) String() string {
	switch t {
	case TypeRX:
		return "rx"
	case TypeTX:
		return "tx"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (t ChannelType) Valid() bool {
	return t == TypeRX || t == TypeTX
}

func ParseChannelType(s string) (ChannelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rx", "0":
		return TypeRX, nil
	case "tx", "1":
		return TypeTX, nil
	default:
		return 0, fmt.Errorf("unknown channel type %q", s)
	}
}

func (t ChannelType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown channel type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ChannelType) UnmarshalText(b []byte) error {
	v, err := ParseChannelType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// UnmarshalYAML accepts "rx"/"tx" as well as 0/1.
func (t *ChannelType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return t.UnmarshalText([]byte(s))
}

type State int

const (
	StateOff State = 0
	StateOn  State = 1
)

func (s State) String() string {
	if s == StateOn {
		return "on"
	}
	return "off"
}

func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "1", "true":
		return StateOn, nil
	case "off", "0", "false":
		return StateOff, nil
	default:
		return 0, fmt.Errorf("unknown channel state %q", s)
	}
}

func (s *State) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	v, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// DrainMode tells SetChannelState whether turning off waits for the channel
// to finish its down ramp and flush.
type DrainMode int

const (
	DrainNoWait DrainMode = 0
	DrainWait   DrainMode = 1
)
