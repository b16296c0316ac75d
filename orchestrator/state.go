package orchestrator

// State is a step of the answer pipeline.
type State int

const (
	StateStart State = iota
	StateDedupCheck
	StateCacheCheck
	StateEmbed
	StateClassifyIntent
	StateGreeting
	StateRetrieval
	StateMemoryLoad
	StatePromptAssembly
	StateGenerate
	StatePersistMemory
	StateCacheStore
	StateDone
	StateSuppressed
	StateFailed
)

var stateNames = [...]string{
	StateStart:          "start",
	StateDedupCheck:     "dedup_check",
	StateCacheCheck:     "cache_check",
	StateEmbed:          "embed",
	StateClassifyIntent: "classify_intent",
	StateGreeting:       "greeting",
	StateRetrieval:      "retrieval",
	StateMemoryLoad:     "memory_load",
	StatePromptAssembly: "prompt_assembly",
	StateGenerate:       "generate",
	StatePersistMemory:  "persist_memory",
	StateCacheStore:     "cache_store",
	StateDone:           "done",
	StateSuppressed:     "suppressed",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSuppressed || s == StateFailed
}
