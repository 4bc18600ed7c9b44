package puppet

import (
	"fmt"
	"time"

	"github.com/LinuxSuRen/wechaty/internal/types"
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateLive
	StateStopping
	StateErrored
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateInitializing: "initializing",
	StateLive:         "live",
	StateStopping:     "stopping",
	StateErrored:      "errored",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText renders the state by name in JSON status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type StateChange struct {
	From State
	To   State
	At   time.Time
}

// ScanState is the pending QR challenge. It is cleared by login.
type ScanState struct {
	Code   int       `json:"code"`
	URL    string    `json:"url"`
	QRCode string    `json:"qrcode,omitempty"`
	At     time.Time `json:"at"`
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	State           State         `json:"state"`
	UserID          string        `json:"user_id,omitempty"`
	Scan            *ScanState    `json:"scan,omitempty"`
	Since           time.Time     `json:"since"`
	ConnectivityDue time.Duration `json:"connectivity_due"`
	ScanDue         time.Duration `json:"scan_due"`
	ScanSleeping    bool          `json:"scan_sleeping"`
}

// Tier is a step of scan watchdog recovery.
type Tier int

const (
	TierReload Tier = iota + 1
	TierReinit
	TierExhausted
)

func (t Tier) String() string {
	switch t {
	case TierReload:
		return "reload"
	case TierReinit:
		return "reinit"
	case TierExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// RecoveryAttempt records one escalation step of a scan watchdog reset.
type RecoveryAttempt struct {
	ID      types.AttemptID
	Tier    Tier
	Started time.Time
	Err     error
}
