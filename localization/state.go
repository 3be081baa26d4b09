package localization

// State describes how far through startup gating the localizer has come.
// There are no reverse transitions short of reconstruction.
type State int

const (
	// StateUninitialized means neither map nor initial pose has arrived.
	StateUninitialized State = iota
	// StateMapPending means an initial pose is set but no map yet.
	StateMapPending
	// StatePosePending means the map is loaded but no initial pose yet.
	StatePosePending
	// StateTracking means scans are flowing through the full pipeline.
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMapPending:
		return "map_pending"
	case StatePosePending:
		return "pose_pending"
	case StateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}
