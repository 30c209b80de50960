package ir

// Version constants recorded with every persisted run.
const (
	// IRVersion is the ExecIR schema version.
	IRVersion = "1"

	// EngineVersion is the TRCR runtime version.
	EngineVersion = "0.1.0"
)
