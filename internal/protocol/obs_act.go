package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`

	World      WorldObs      `json:"world"`
	Self       SelfObs       `json:"self"`
	Inventory  []ItemStack   `json:"inventory"`
	Equipment  EquipmentObs  `json:"equipment"`
	LocalRules LocalRulesObs `json:"local_rules"`

	Voxels   VoxelsObs   `json:"voxels"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
	Tasks    []TaskObs   `json:"tasks"`

	FunScore *FunScoreObs `json:"fun_score,omitempty"`
	Memory   []MemoryKV   `json:"memory,omitempty"`
}

type WorldObs struct {
	TimeOfDay           float64 `json:"time_of_day"` // 0..1
	Weather             string  `json:"weather"`
	SeasonDay           int     `json:"season_day"`
	Biome               string  `json:"biome"`
	ActiveEvent         string  `json:"active_event,omitempty"`
	ActiveEventEndsTick uint64  `json:"active_event_ends_tick,omitempty"`
}

type SelfObs struct {
	Pos     [3]int   `json:"pos"`
	Yaw     int      `json:"yaw"`
	HP      int      `json:"hp"`
	Hunger  int      `json:"hunger"`
	Stamina float64  `json:"stamina"`
	Status  []string `json:"status"`

	Reputation ReputationObs `json:"reputation,omitempty"`
}

type ReputationObs struct {
	Trade  float64 `json:"trade"`
	Build  float64 `json:"build"`
	Social float64 `json:"social"`
	Law    float64 `json:"law"`
}

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type EquipmentObs struct {
	MainHand string   `json:"main_hand"`
	Armor    []string `json:"armor"`
}

type LocalRulesObs struct {
	LandID      string             `json:"land_id,omitempty"`
	Owner       string             `json:"owner,omitempty"`
	Role        string             `json:"role,omitempty"` // "WILD","OWNER","MEMBER","VISITOR"
	Permissions map[string]bool    `json:"permissions"`
	Tax         map[string]float64 `json:"tax,omitempty"`
}

type VoxelsObs struct {
	Center   [3]int         `json:"center"`
	Radius   int            `json:"radius"`
	Encoding string         `json:"encoding"` // "RLE" or "DELTA"
	Data     string         `json:"data,omitempty"`
	Ops      []VoxelDeltaOp `json:"ops,omitempty"`
}

type VoxelDeltaOp struct {
	D [3]int `json:"d"` // delta from center (dx,dy,dz)
	B uint16 `json:"b"` // block palette id
}

type EntityObs struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"` // "AGENT", "CHEST", "ITEM", ...
	Pos            [3]int   `json:"pos"`
	Tags           []string `json:"tags,omitempty"`
	ReputationHint float64  `json:"reputation_hint,omitempty"`

	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
}

type Event map[string]interface{}

// Type returns the event "type" field or "".
func (e Event) Type() string {
	s, _ := e["type"].(string)
	return s
}

type TaskObs struct {
	TaskID   string  `json:"task_id"`
	Kind     string  `json:"kind"`
	Progress float64 `json:"progress"`
	Target   [3]int  `json:"target,omitempty"`
	EtaTicks int     `json:"eta_ticks,omitempty"`
}

type MemoryKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type FunScoreObs struct {
	Novelty    int `json:"novelty"`
	Creation   int `json:"creation"`
	Social     int `json:"social"`
	Influence  int `json:"influence"`
	Narrative  int `json:"narrative"`
	RiskRescue int `json:"risk_rescue"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	AgentID         string       `json:"agent_id"`
	Instants        []InstantReq `json:"instants,omitempty"`
	Tasks           []TaskReq    `json:"tasks,omitempty"`
	Cancel          []string     `json:"cancel,omitempty"`
}

type InstantReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
	To      string `json:"to,omitempty"`

	Offer   [][]interface{} `json:"offer,omitempty"`   // [["PLANK",10], ...]
	Request [][]interface{} `json:"request,omitempty"` // same shape

	ItemID string `json:"item_id,omitempty"`
	Count  int    `json:"count,omitempty"`
}

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`
	Distance  float64 `json:"distance,omitempty"`

	TargetID string `json:"target_id,omitempty"`

	BlockPos    [3]int `json:"block_pos,omitempty"`
	RecipeID    string `json:"recipe_id,omitempty"`
	Count       int    `json:"count,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	BlueprintID string `json:"blueprint_id,omitempty"`
	Anchor      [3]int `json:"anchor,omitempty"`
	Rotation    int    `json:"rotation,omitempty"`
}

// ActionResult is the decoded form of an ACTION_RESULT / TASK_DONE / TASK_FAIL event.
type ActionResult struct {
	Ref    string
	OK     bool
	Code   string
	TaskID string // server task id when an accepted request started a task
}

// ResultFor scans the events for a result that references id (instant ref or task id).
func ResultFor(events []Event, id string) (ActionResult, bool) {
	for _, e := range events {
		switch e.Type() {
		case "ACTION_RESULT":
			ref, _ := e["ref"].(string)
			if ref != id {
				continue
			}
			ok, _ := e["ok"].(bool)
			code, _ := e["code"].(string)
			taskID, _ := e["task_id"].(string)
			return ActionResult{Ref: ref, OK: ok, Code: code, TaskID: taskID}, true
		case "TASK_DONE", "TASK_FAIL":
			ref, _ := e["task_id"].(string)
			if ref != id {
				continue
			}
			code, _ := e["code"].(string)
			return ActionResult{Ref: ref, OK: e.Type() == "TASK_DONE", Code: code}, true
		}
	}
	return ActionResult{}, false
}
