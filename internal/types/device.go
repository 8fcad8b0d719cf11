package types

// Request bodies of the arm endpoints. Scalar fields are pointers so that a
// zero value still satisfies binding:"required".

type AnglesRequest struct {
	Angles []int `json:"angles" binding:"required"`
}

type ValueRequest struct {
	Value *int `json:"value" binding:"required"`
}

type VacuumRequest struct {
	On *bool `json:"on" binding:"required"`
}

type OffsetsRequest struct {
	Offsets []int `json:"offsets" binding:"required"`
}

// SpeedRequest sets either one speed for all joints or one per joint.
type SpeedRequest struct {
	Speed  *int  `json:"speed"`
	Speeds []int `json:"speeds"`
}

type FeedbackFrequencyRequest struct {
	Angles *int `json:"angles"`
	Loads  *int `json:"loads"`
}

type IKRequest struct {
	Position *[3]int `json:"position" binding:"required"`
	Vec56    *[3]int `json:"vec56"`
	Vec67    *[3]int `json:"vec67"`
}

type RegisterWriteRequest struct {
	Values []int `json:"values" binding:"required"`
}

// ProtocolRequest switches the device link. Empty fields keep the
// configured value.
type ProtocolRequest struct {
	Protocol string `json:"protocol" binding:"required"`
	Port     string `json:"port"`
	Baud     int    `json:"baud"`
	Host     string `json:"host"`
	WSPort   int    `json:"ws_port"`
	Path     string `json:"path"`
	URL      string `json:"url"`
}

type MotionWaitRequest struct {
	TimeoutMs int `json:"timeout_ms"`
}

type PoseMoveRequest struct {
	Name string `json:"name" binding:"required"`
}
