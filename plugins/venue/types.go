package venue

import (
	"sync"
	"time"

	"venuebot/internal/core"
	booking "venuebot/pkg/venue"
)

// Config defines plugin configuration.
type Config struct {
	Prefix string `json:"prefix"`

	// Portal and identity.
	BaseURL     string `json:"base_url"`
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Secret      string `json:"secret"`
	SessionFile string `json:"session_file"`

	// External login helper argv for unattended renewal, e.g.
	// ["/usr/local/bin/portal-login", "--headless"].
	LoginHelper  []string `json:"login_helper"`
	LoginTimeout string   `json:"login_timeout"`

	// Where cycle progress and escalations go. Zero falls back to the
	// first owner user id.
	OperatorChatID int64 `json:"operator_chat_id"`

	Targets []booking.Target `json:"targets"`

	// Trigger times (scheduler timezone). BookingAt supports seconds so the
	// run can start just before the portal releases next-day slots.
	BookingAt     string `json:"booking_at"`     // default 12:29:30
	PrewarmAt     string `json:"prewarm_at"`     // default 12:20
	MaintainEvery string `json:"maintain_every"` // default 30m

	// Cycle tuning.
	RequestDelay string `json:"request_delay"` // default 500ms
	MaxCycle     string `json:"max_cycle"`     // default 6m

	Timeouts struct {
		Command string `json:"command,omitempty"`
	} `json:"timeouts,omitempty"`
}

// Plugin drives automated venue booking: scheduled cycles, session
// maintenance and the /venue command group.
type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config

	// Domain objects, rebuilt on config change.
	store   *booking.Store
	client  *booking.Client
	manager *booking.Manager
	engine  *booking.Engine

	runMu sync.Mutex // one booking cycle at a time

	// MFA escalations fire once per stuck state, not once per retry.
	mfaMu   sync.Mutex
	mfaSent bool

	lastMu     sync.Mutex
	lastReport *booking.CycleReport
	lastRunAt  time.Time
}
