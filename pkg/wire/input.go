package wire

// InputEventType enumerates every input event variant the protocol carries.
// The Control Plane only forwards these to the active session's client; it
// never interprets them (§1 Non-goals: input semantics routing is out of
// scope, forwarding the closed, typed payload is not).
type InputEventType string

const (
	InputPointerMotion         InputEventType = "pointer_motion"          // relative dx/dy
	InputPointerMotionAbsolute InputEventType = "pointer_motion_absolute" // x/y within a monitor
	InputPointerButton         InputEventType = "pointer_button"
	InputPointerAxis           InputEventType = "pointer_axis" // scroll
	InputKey                  InputEventType = "key"
	InputTouchDown             InputEventType = "touch_down"
	InputTouchUp               InputEventType = "touch_up"
	InputTouchMotion           InputEventType = "touch_motion"
	InputTouchFrame            InputEventType = "touch_frame"
	InputTouchCancel           InputEventType = "touch_cancel"
	InputTabletToolProximity   InputEventType = "tablet_tool_proximity"
	InputTabletToolAxis        InputEventType = "tablet_tool_axis"
	InputTabletToolTip         InputEventType = "tablet_tool_tip"
	InputTabletToolButton      InputEventType = "tablet_tool_button"
	InputTabletPadButton       InputEventType = "tablet_pad_button"
	InputTabletPadRing         InputEventType = "tablet_pad_ring"
	InputTabletPadStrip        InputEventType = "tablet_pad_strip"
	InputSwitchToggle          InputEventType = "switch_toggle" // lid, tablet-mode
	InputGestureSwipe          InputEventType = "gesture_swipe"
	InputGesturePinch         InputEventType = "gesture_pinch"
	InputGestureHold          InputEventType = "gesture_hold"
)

// AxisSource distinguishes scroll-wheel clicks from continuous finger/touchpad
// scrolling, matching the distinction libinput exposes.
type AxisSource string

const (
	AxisSourceWheel     AxisSource = "wheel"
	AxisSourceFinger    AxisSource = "finger"
	AxisSourceContinuous AxisSource = "continuous"
)

// SwitchKind names the hardware switch toggled by a switch_toggle event.
type SwitchKind string

const (
	SwitchLid        SwitchKind = "lid"
	SwitchTabletMode SwitchKind = "tablet_mode"
)

// GesturePhase marks the stage of a multi-finger gesture.
type GesturePhase string

const (
	GestureBegin  GesturePhase = "begin"
	GestureUpdate GesturePhase = "update"
	GestureEnd    GesturePhase = "end"
)

// InputEventPayload is a closed tagged union over every InputEventType.
// Only the fields relevant to Type are populated; this mirrors a Rust enum
// without reflection by keeping Type authoritative and documenting which
// fields apply to which variant.
type InputEventPayload struct {
	Type InputEventType `json:"type"`

	// pointer_motion
	DX float64 `json:"dx,omitempty"`
	DY float64 `json:"dy,omitempty"`

	// pointer_motion_absolute, touch_down/motion, tablet_tool_proximity/axis/tip
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// pointer_button, tablet_tool_button, tablet_pad_button
	Button uint32 `json:"button,omitempty"`
	// pointer_button, tablet_tool_button, tablet_pad_button, tablet_tool_tip
	Pressed bool `json:"pressed,omitempty"`

	// pointer_axis
	AxisSource   AxisSource `json:"axis_source,omitempty"`
	HorizontalV  float64    `json:"horizontal,omitempty"`
	VerticalV    float64    `json:"vertical,omitempty"`

	// key
	KeyCode uint32 `json:"key_code,omitempty"`

	// touch_down/up/motion/cancel, tablet_tool_* events
	SlotID int32 `json:"slot_id,omitempty"`

	// tablet_tool_proximity
	In bool `json:"in,omitempty"`

	// tablet_tool_axis
	Pressure float64 `json:"pressure,omitempty"`
	TiltX    float64 `json:"tilt_x,omitempty"`
	TiltY    float64 `json:"tilt_y,omitempty"`

	// tablet_pad_ring / tablet_pad_strip
	RingOrStripID uint32  `json:"ring_or_strip_id,omitempty"`
	Position      float64 `json:"position,omitempty"`

	// switch_toggle
	Switch SwitchKind `json:"switch,omitempty"`
	On     bool       `json:"on,omitempty"`

	// gesture_swipe / gesture_pinch / gesture_hold
	Phase      GesturePhase `json:"phase,omitempty"`
	Fingers    uint32       `json:"fingers,omitempty"`
	Scale      float64      `json:"scale,omitempty"`
	Rotation   float64      `json:"rotation,omitempty"`

	// Common monotonic event timestamp, microseconds.
	TimeUsec uint64 `json:"time_usec,omitempty"`
}
