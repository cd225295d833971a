package ir

// EngineVersion is the anchorsync release, reported by the CLI.
const EngineVersion = "0.1.0"
