package wire

// Kind is the closed set of header identifiers that appear on the wire.
// Every message is dispatched through this enumeration; there is no runtime
// extension mechanism (§9 "Variant dispatch").
type Kind string

const (
	KindHello             Kind = "hello"
	KindAuth              Kind = "auth"
	KindAuthOK            Kind = "auth_ok"
	KindAuthError         Kind = "auth_error"
	KindFramebufferLink   Kind = "framebuffer_link"
	KindBufferRequest     Kind = "buffer_request"
	KindBufferRequestAck  Kind = "buffer_request_ack"
	KindBufferRelease     Kind = "buffer_release"
	KindMonitorAdded      Kind = "monitor_added"
	KindMonitorRemoved    Kind = "monitor_removed"
	KindSessionCreate     Kind = "session_create"
	KindSessionCreated    Kind = "session_created"
	KindSessionReady      Kind = "session_ready"
	KindSessionState      Kind = "session_state"
	KindSessionActive     Kind = "session_active"
	KindSessionSwitch     Kind = "session_switch"
	KindError             Kind = "error"
	KindPing              Kind = "ping"
	KindPong              Kind = "pong"
	KindInputEvent        Kind = "input_event"
)

// fdSpec bounds the number of file descriptors a message kind may carry.
type fdSpec struct{ min, max int }

var fdSpecs = map[Kind]fdSpec{
	KindHello:            {0, 0},
	KindAuth:             {0, 0},
	KindAuthOK:           {0, 0},
	KindAuthError:        {0, 0},
	KindFramebufferLink:  {2, 2},
	KindBufferRequest:    {0, 1},
	KindBufferRequestAck: {0, 0},
	KindBufferRelease:    {0, 0},
	KindMonitorAdded:     {0, 0},
	KindMonitorRemoved:   {0, 0},
	KindSessionCreate:    {0, 0},
	KindSessionCreated:   {0, 0},
	KindSessionReady:     {0, 0},
	KindSessionState:     {0, 0},
	KindSessionActive:    {0, 0},
	KindSessionSwitch:    {0, 0},
	KindError:            {0, 0},
	KindPing:             {0, 0},
	KindPong:             {0, 0},
	KindInputEvent:       {0, 0},
}

// Role is a session's privilege level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleNormal Role = "normal"
)

// Lifecycle is a session's position in its Pending→Loading→Occupied→Consumed
// state machine (§3 "Session").
type Lifecycle string

const (
	LifecyclePending  Lifecycle = "pending"
	LifecycleLoading  Lifecycle = "loading"
	LifecycleOccupied Lifecycle = "occupied"
	LifecycleConsumed Lifecycle = "consumed"
)

// Slot is a buffer slot index; a session/monitor swapchain has exactly two.
type Slot uint8

const (
	Slot0 Slot = 0
	Slot1 Slot = 1
)

// Other returns the swapchain's other slot.
func (s Slot) Other() Slot {
	if s == Slot0 {
		return Slot1
	}
	return Slot0
}

func (s Slot) byte() byte { return byte('0') + byte(s) }

func slotFromByte(b byte) (Slot, bool) {
	switch b {
	case '0':
		return Slot0, true
	case '1':
		return Slot1, true
	default:
		return 0, false
	}
}

// SessionInfo is the snapshot of a session sent to clients in auth_ok,
// session_created, and session_state frames.
type SessionInfo struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name,omitempty"`
	Lifecycle   Lifecycle `json:"lifecycle"`
}

// MonitorInfo is the snapshot of a monitor sent in auth_ok and monitor_added.
type MonitorInfo struct {
	ID          string `json:"id"`
	Width       uint32 `json:"width"`
	Height      uint32 `json:"height"`
	RefreshMHz  uint32 `json:"refresh_rate"`
	Name        string `json:"name"`
}

// Message is implemented by every concrete frame payload type. The set is
// closed: Kind() always returns one of the Kind constants above.
type Message interface {
	Kind() Kind
}

type Hello struct {
	Server   string `json:"server"`
	Protocol string `json:"protocol"`
}

func (Hello) Kind() Kind { return KindHello }

type Auth struct {
	Token string `json:"token"`
}

func (Auth) Kind() Kind { return KindAuth }

type AuthOK struct {
	Session  SessionInfo   `json:"session"`
	Monitors []MonitorInfo `json:"monitors"`
}

func (AuthOK) Kind() Kind { return KindAuthOK }

type AuthError struct {
	Error string `json:"error"`
}

func (AuthError) Kind() Kind { return KindAuthError }

// FramebufferLink carries the two DMA-BUF FDs for slots 0 and 1. FDs[0] is
// slot 0, FDs[1] is slot 1, matching the requirement of exactly 2 attached
// descriptors (§4.1).
type FramebufferLink struct {
	MonitorID string `json:"monitor_id"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	Stride    uint32 `json:"stride"`
	Offset    uint32 `json:"offset"`
	FourCC    string `json:"fourcc"`
	FDs       [2]int `json:"-"`
}

func (FramebufferLink) Kind() Kind { return KindFramebufferLink }

// BufferRequest requests promotion of a slot, with an optional GPU acquire
// fence. FenceFD is -1 when no fence was attached.
type BufferRequest struct {
	MonitorID string `json:"-"`
	Slot      Slot   `json:"-"`
	FenceFD   int    `json:"-"`
}

func (BufferRequest) Kind() Kind { return KindBufferRequest }

type BufferRequestAck struct {
	MonitorID string `json:"-"`
	Slot      Slot   `json:"-"`
}

func (BufferRequestAck) Kind() Kind { return KindBufferRequestAck }

type BufferRelease struct {
	MonitorID string `json:"-"`
	Slot      Slot   `json:"-"`
}

func (BufferRelease) Kind() Kind { return KindBufferRelease }

type MonitorAdded struct {
	Monitor MonitorInfo `json:"monitor"`
}

func (MonitorAdded) Kind() Kind { return KindMonitorAdded }

type MonitorRemoved struct {
	MonitorID string `json:"monitor_id"`
	Name      string `json:"name"`
}

func (MonitorRemoved) Kind() Kind { return KindMonitorRemoved }

type SessionCreate struct {
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

func (SessionCreate) Kind() Kind { return KindSessionCreate }

type SessionCreated struct {
	Session SessionInfo `json:"session"`
	Token   string      `json:"token"`
}

func (SessionCreated) Kind() Kind { return KindSessionCreated }

// SessionReady is sent by a client to signal it has presented its first
// frame, driving the Loading→Occupied edge when the Control Plane hasn't
// already observed a buffer promotion (§4 SUPPLEMENTED FEATURES #2).
type SessionReady struct{}

func (SessionReady) Kind() Kind { return KindSessionReady }

type SessionState struct {
	Session SessionInfo `json:"session"`
}

func (SessionState) Kind() Kind { return KindSessionState }

// SessionActive broadcasts which session is currently selected for display.
// SessionID is empty when no session is active.
type SessionActive struct {
	SessionID string `json:"session_id,omitempty"`
}

func (SessionActive) Kind() Kind { return KindSessionActive }

// SessionSwitch is sent by an admin client to switch the active session,
// optionally with a cross-fade (§4 SUPPLEMENTED FEATURES #3). The server
// never sends it; clients learn of the switch through SessionActive.
type SessionSwitch struct {
	SessionID  string `json:"session_id"`
	Animation  string `json:"animation,omitempty"`
	DurationMs uint32 `json:"duration_ms,omitempty"`
}

func (SessionSwitch) Kind() Kind { return KindSessionSwitch }

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (ErrorMessage) Kind() Kind { return KindError }

type Ping struct{}

func (Ping) Kind() Kind { return KindPing }

type Pong struct{}

func (Pong) Kind() Kind { return KindPong }

type InputEvent struct {
	Event InputEventPayload `json:"event"`
}

func (InputEvent) Kind() Kind { return KindInputEvent }
