package status

// BatchStatus status of a batch moving through a sink transaction
type BatchStatus string

const (
	//OPEN batch is accumulating units
	OPEN BatchStatus = "OPEN"
	//COMMITTING batch is closed and its transaction is being committed
	COMMITTING BatchStatus = "COMMITTING"
	//COMMITTED batch transaction has been committed
	COMMITTED BatchStatus = "COMMITTED"
	//ROLLED_BACK batch transaction has been rolled back, none of its rows are visible
	ROLLED_BACK BatchStatus = "ROLLED_BACK"
)

// Terminal reports whether no further transition is possible.
func (s BatchStatus) Terminal() bool {
	return s == COMMITTED || s == ROLLED_BACK
}

// LaneStatus status of a worker lane or of a whole run
type LaneStatus string

const (
	//STARTING lane has been created but not yet started
	STARTING LaneStatus = "STARTING"
	//STARTED lane is running
	STARTED LaneStatus = "STARTED"
	//STOPPED lane stopped on request before its shard was exhausted
	STOPPED LaneStatus = "STOPPED"
	//COMPLETED lane processed its whole shard
	COMPLETED LaneStatus = "COMPLETED"
	//FAILED lane terminated on a lane-fatal error
	FAILED LaneStatus = "FAILED"
	//UNKNOWN lane aborted due to unknown reason
	UNKNOWN LaneStatus = "UNKNOWN"
)

var statuses = map[LaneStatus]int{
	STARTING:  0,
	STARTED:   1,
	COMPLETED: 2,
	STOPPED:   3,
	FAILED:    4,
	UNKNOWN:   5,
}

// And combines two lane statuses into the status of the run, the worse one wins.
func (s LaneStatus) And(other LaneStatus) LaneStatus {
	i1, ok1 := statuses[s]
	i2, ok2 := statuses[other]
	if ok1 && ok2 {
		if i1 < i2 {
			return other
		}
		return s
	} else if ok1 {
		return other
	}
	return s
}
