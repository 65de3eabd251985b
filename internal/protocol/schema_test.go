package protocol

import "testing"

func TestValidateObs_AcceptsServerSample(t *testing.T) {
	raw := []byte(`{
	  "type":"OBS",
	  "protocol_version":"1.0",
	  "tick":0,
	  "agent_id":"A1",
	  "world_id":"OVERWORLD",
	  "world":{"time_of_day":0.0,"weather":"CLEAR","season_day":1,"biome":"PLAINS"},
	  "self":{"pos":[0,0,0],"yaw":0,"hp":20,"hunger":20,"stamina":1.0,"status":["NONE"]},
	  "inventory":[],
	  "equipment":{"main_hand":"NONE","armor":["NONE","NONE","NONE","NONE"]},
	  "local_rules":{"permissions":{"can_build":true,"can_break":true,"can_damage":false},"tax":{"market":0.0}},
	  "voxels":{"center":[0,0,0],"radius":7,"encoding":"RLE","data":"AA=="},
	  "entities":[],
	  "events":[],
	  "tasks":[]
	}`)
	if err := ValidateObs(raw); err != nil {
		t.Fatalf("ValidateObs: %v", err)
	}
}

func TestValidateObs_RejectsMissingSelf(t *testing.T) {
	raw := []byte(`{"type":"OBS","tick":3,"agent_id":"A1"}`)
	if err := ValidateObs(raw); err == nil {
		t.Fatalf("expected schema error for missing self")
	}
}

func TestValidateObs_RejectsWrongType(t *testing.T) {
	raw := []byte(`{"type":"ACT","tick":3,"agent_id":"A1","self":{"pos":[0,0,0],"hp":1,"hunger":1}}`)
	if err := ValidateObs(raw); err == nil {
		t.Fatalf("expected schema error for non-OBS message")
	}
}

func TestResultFor_MatchesTaskAndInstant(t *testing.T) {
	events := []Event{
		{"t": float64(1), "type": "ACTION_RESULT", "ref": "I_1", "ok": false, "code": ErrNoResource},
		{"t": float64(2), "type": "TASK_DONE", "task_id": "K_2"},
		{"t": float64(2), "type": "TASK_FAIL", "task_id": "K_3", "code": ErrBlocked},
	}
	r, ok := ResultFor(events, "I_1")
	if !ok || r.OK || r.Code != ErrNoResource {
		t.Fatalf("instant result mismatch: %+v ok=%v", r, ok)
	}
	r, ok = ResultFor(events, "K_2")
	if !ok || !r.OK {
		t.Fatalf("task done mismatch: %+v ok=%v", r, ok)
	}
	r, ok = ResultFor(events, "K_3")
	if !ok || r.OK || r.Code != ErrBlocked {
		t.Fatalf("task fail mismatch: %+v ok=%v", r, ok)
	}
	if _, ok := ResultFor(events, "missing"); ok {
		t.Fatalf("expected no result for unknown id")
	}
}
