package usecase

import "github.com/zoobzio/capitan"

// Signals emitted around every stage call.
const (
	StageStarted   = capitan.Signal("chain.stage.started")
	StageCompleted = capitan.Signal("chain.stage.completed")
	StageFailed    = capitan.Signal("chain.stage.failed")
)

var (
	RunIDKey      = capitan.NewStringKey("chain.run.id")
	StageKey      = capitan.NewIntKey("chain.stage")
	StageNameKey  = capitan.NewStringKey("chain.stage.name")
	ModelKey      = capitan.NewStringKey("chain.model")
	ErrorCodeKey  = capitan.NewStringKey("chain.error.code")
	ErrorKey      = capitan.NewStringKey("chain.error")
	DurationMsKey = capitan.NewIntKey("chain.duration.ms")
)
