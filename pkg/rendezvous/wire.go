package rendezvous

// Message types exchanged between a worker and the tracker over the join
// connection. JSON-encoded, one object per message.
const (
	MsgJoin   = "join"
	MsgStart  = "start"
	MsgReduce = "reduce"
	MsgResult = "result"
	MsgLeave  = "leave"
	MsgError  = "error"
)

// Message is the single frame type of the tracker protocol. Fields are
// populated according to Type: join carries TaskID and Rank, start carries
// World, reduce/result carry Seq and Vector, error carries Error.
type Message struct {
	Type   string    `json:"type"`
	TaskID string    `json:"task_id,omitempty"`
	Rank   int       `json:"rank,omitempty"`
	World  int       `json:"world,omitempty"`
	Seq    uint64    `json:"seq,omitempty"`
	Vector []float64 `json:"vector,omitempty"`
	Error  string    `json:"error,omitempty"`
}
