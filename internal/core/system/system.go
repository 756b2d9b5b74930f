package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseIntents   Phase = iota // 0: drain connection + submessage intents
	PhaseSimulate               // 1: motion integration, chunk version commit
	PhaseReplicate              // 2: build per-connection frames
	PhaseOutput                 // 3: flush frames to writer queues
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
