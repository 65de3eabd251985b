// Package actions is the fixed discrete action set and its bridge to the world.
package actions

import (
	"context"
	"fmt"
)

// Action indices are stable for a deployment; new actions are only ever appended.
const (
	Idle = iota
	MoveNorth
	MoveSouth
	MoveEast
	MoveWest
	Explore
	Mine
	Gather
	PlaceBlock
	CraftPlanks
	CraftSticks
	CraftTool
	Smelt
	Eat
	Rest
	Flee
	FollowAgent
	Say
	OfferTrade
	BuildShelter
	PlaceTorch
	OpenContainer

	numActions
)

type Action struct {
	Index    int
	Name     string
	Category string // skill credited on execution, "" for none
}

var catalog = [numActions]Action{
	{Idle, "IDLE", ""},
	{MoveNorth, "MOVE_NORTH", "survival"},
	{MoveSouth, "MOVE_SOUTH", "survival"},
	{MoveEast, "MOVE_EAST", "survival"},
	{MoveWest, "MOVE_WEST", "survival"},
	{Explore, "EXPLORE", "survival"},
	{Mine, "MINE", "mining"},
	{Gather, "GATHER", "gathering"},
	{PlaceBlock, "PLACE_BLOCK", "building"},
	{CraftPlanks, "CRAFT_PLANKS", "crafting"},
	{CraftSticks, "CRAFT_STICKS", "crafting"},
	{CraftTool, "CRAFT_TOOL", "crafting"},
	{Smelt, "SMELT", "crafting"},
	{Eat, "EAT", "survival"},
	{Rest, "REST", "survival"},
	{Flee, "FLEE", "survival"},
	{FollowAgent, "FOLLOW_AGENT", "social"},
	{Say, "SAY", "social"},
	{OfferTrade, "OFFER_TRADE", "social"},
	{BuildShelter, "BUILD_SHELTER", "building"},
	{PlaceTorch, "PLACE_TORCH", "building"},
	{OpenContainer, "OPEN_CONTAINER", "gathering"},
}

var byName = func() map[string]int {
	m := make(map[string]int, numActions)
	for _, a := range catalog {
		m[a.Name] = a.Index
	}
	return m
}()

// Actuator performs one named action in the world and reports whether it succeeded.
// Implementations block for the duration of the world interaction.
type Actuator interface {
	Execute(ctx context.Context, name string) bool
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(ctx context.Context, name string) bool

func (f ActuatorFunc) Execute(ctx context.Context, name string) bool { return f(ctx, name) }

func Count() int { return numActions }

func All() []Action { return append([]Action(nil), catalog[:]...) }

func Get(i int) (Action, bool) {
	if i < 0 || i >= numActions {
		return Action{}, false
	}
	return catalog[i], true
}

func NameOf(i int) string {
	a, ok := Get(i)
	if !ok {
		return ""
	}
	return a.Name
}

func IndexOf(name string) (int, bool) {
	i, ok := byName[name]
	return i, ok
}

func CategoryOf(i int) string {
	a, _ := Get(i)
	return a.Category
}

// Execute runs action i through act. Unknown indices, a nil actuator and
// actuator panics all report failure.
func Execute(ctx context.Context, i int, act Actuator) (ok bool, err error) {
	a, found := Get(i)
	if !found {
		return false, fmt.Errorf("actions: index %d out of range", i)
	}
	if act == nil {
		return false, fmt.Errorf("actions: nil actuator")
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("actions: %s panicked: %v", a.Name, r)
		}
	}()
	return act.Execute(ctx, a.Name), nil
}
