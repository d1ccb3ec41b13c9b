package model

import "time"

// Wire types shared by the HTTP API, the CLI and the store.

type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type LocationIn struct {
	Index int         `json:"index"`
	ID    string      `json:"id,omitempty"`
	Coord *Coordinate `json:"coord,omitempty"`
}

type StopIn struct {
	Location    int          `json:"location"`
	DurationSec float64      `json:"durationSec,omitempty"`
	TimeWindows []TimeWindow `json:"timeWindows,omitempty"`
}

type ServiceIn struct {
	ID     string `json:"id,omitempty"`
	Stop   StopIn `json:"stop"`
	Demand []int  `json:"demand,omitempty"`
}

type ShipmentIn struct {
	ID             string  `json:"id,omitempty"`
	Pickup         StopIn  `json:"pickup"`
	Delivery       StopIn  `json:"delivery"`
	Demand         []int   `json:"demand,omitempty"`
	MaxRideTimeSec float64 `json:"maxRideTimeSec,omitempty"`
}

type BreakIn struct {
	ID          string       `json:"id,omitempty"`
	DurationSec float64      `json:"durationSec"`
	TimeWindows []TimeWindow `json:"timeWindows,omitempty"`
}

type CostsIn struct {
	Fixed          float64 `json:"fixed,omitempty"`
	PerDistance    float64 `json:"perDistance,omitempty"`
	PerTime        float64 `json:"perTime,omitempty"`
	PerWaitingTime float64 `json:"perWaitingTime,omitempty"`
}

type VehicleIn struct {
	ID            string      `json:"id,omitempty"`
	StartLocation int         `json:"startLocation"`
	EndLocation   *int        `json:"endLocation,omitempty"`
	ReturnToDepot *bool       `json:"returnToDepot,omitempty"`
	ShiftWindow   *TimeWindow `json:"shiftWindow,omitempty"`
	Capacity      []int       `json:"capacity,omitempty"`
	Costs         *CostsIn    `json:"costs,omitempty"`
	Break         *BreakIn    `json:"break,omitempty"`
}

// ProblemIn is the JSON form of a dispatch problem. FleetSize is FINITE
// (default) or INFINITE.
type ProblemIn struct {
	FleetSize string       `json:"fleetSize,omitempty"`
	Locations []LocationIn `json:"locations,omitempty"`
	Vehicles  []VehicleIn  `json:"vehicles"`
	Services  []ServiceIn  `json:"services,omitempty"`
	Shipments []ShipmentIn `json:"shipments,omitempty"`
}

// MatrixRecord mirrors matrix.Record on the wire.
type MatrixRecord struct {
	From     int     `json:"from"`
	To       int     `json:"to"`
	Time     float64 `json:"time"`
	Distance float64 `json:"distance"`
}

// RunParams tunes one optimisation run. Zero values keep the server defaults.
type RunParams struct {
	MaxIterations      int       `json:"maxIterations,omitempty"`
	Workers            int       `json:"workers,omitempty"`
	Seed               *int64    `json:"seed,omitempty"`
	Construction       string    `json:"construction,omitempty"`
	FastRegret         bool      `json:"fastRegret,omitempty"`
	Acceptance         string    `json:"acceptance,omitempty"`
	TimeBudgetMs       int       `json:"timeBudgetMs,omitempty"`
	NoImprovement      int       `json:"noImprovement,omitempty"`
	VariationWindow    int       `json:"variationWindow,omitempty"`
	VariationThreshold float64   `json:"variationThreshold,omitempty"`
	StretchFactor      float64   `json:"stretchFactor,omitempty"`
	FixedSlackSec      float64   `json:"fixedSlackSec,omitempty"`
	UnassignedPenalty  float64   `json:"unassignedPenalty,omitempty"`
	InitTemp           float64   `json:"initTemp,omitempty"`
	Cooling            float64   `json:"cooling,omitempty"`
	RuinWeights        []float64 `json:"ruinWeights,omitempty"`
}

// OptimizeRequest starts a run. The matrix is either inline or a dataset
// previously stored with PUT /v1/matrices/{dataset}.
type OptimizeRequest struct {
	Problem     ProblemIn      `json:"problem"`
	Matrix      []MatrixRecord `json:"matrix,omitempty"`
	Dataset     string         `json:"dataset,omitempty"`
	Params      RunParams      `json:"params,omitempty"`
	CallbackURL string         `json:"callbackUrl,omitempty"`
	Wait        bool           `json:"wait,omitempty"`
}

// Read models

type ActivityOut struct {
	Type        string   `json:"type"`
	JobID       string   `json:"jobId"`
	Location    *int     `json:"location,omitempty"`
	Arrival     float64  `json:"arrival"`
	Begin       float64  `json:"begin"`
	Departure   float64  `json:"departure"`
	Load        []int    `json:"load,omitempty"`
	RideTimeSec *float64 `json:"rideTimeSec,omitempty"`
}

type RouteOut struct {
	VehicleID     string        `json:"vehicleId"`
	Start         float64       `json:"start"`
	End           float64       `json:"end"`
	Cost          float64       `json:"cost"`
	Distance      float64       `json:"distance"`
	TransportTime float64       `json:"transportTime"`
	WaitingTime   float64       `json:"waitingTime"`
	Activities    []ActivityOut `json:"activities"`
}

type UnassignedOut struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

type SolutionOut struct {
	Cost       float64         `json:"cost"`
	RouteCost  float64         `json:"routeCost"`
	Routes     []RouteOut      `json:"routes"`
	Unassigned []UnassignedOut `json:"unassigned"`
}

type ProgressOut struct {
	Iteration  int     `json:"iteration"`
	BestCost   float64 `json:"bestCost"`
	Unassigned int     `json:"unassigned"`
	ElapsedMs  int64   `json:"elapsedMs"`
}

type RunStats struct {
	Iterations    int            `json:"iterations"`
	Improvements  int            `json:"improvements"`
	AcceptedWorse int            `json:"acceptedWorse"`
	RuinSelects   map[string]int `json:"ruinSelects,omitempty"`
	Rejections    map[string]int `json:"rejections,omitempty"`
}

type RunResult struct {
	Solution    SolutionOut   `json:"solution"`
	InitialCost float64       `json:"initialCost"`
	Stop        string        `json:"stop"`
	DurationMs  int64         `json:"durationMs"`
	History     []ProgressOut `json:"history,omitempty"`
	Stats       RunStats      `json:"stats"`
}

const (
	RunQueued  = "queued"
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

// Run is the persisted record of one optimisation.
type Run struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Dataset     string     `json:"dataset,omitempty"`
	Params      RunParams  `json:"params"`
	CallbackURL string     `json:"callbackUrl,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      *RunResult `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// RunEvent is pushed to stream subscribers of a run.
type RunEvent struct {
	Type     string       `json:"type"` // progress, done, failed
	RunID    string       `json:"runId"`
	Progress *ProgressOut `json:"progress,omitempty"`
	Status   string       `json:"status,omitempty"`
	TS       string       `json:"ts"`
}

// CallbackPayload is POSTed to a run's callback URL on completion.
type CallbackPayload struct {
	RunID      string  `json:"runId"`
	Status     string  `json:"status"`
	Cost       float64 `json:"cost,omitempty"`
	Routes     int     `json:"routes,omitempty"`
	Unassigned int     `json:"unassigned,omitempty"`
	Stop       string  `json:"stop,omitempty"`
	Error      string  `json:"error,omitempty"`
}
