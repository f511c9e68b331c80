package config

// Output defaults.
const (
	DefaultOutputPath   = "requirements.txt"
	DefaultOutputFormat = "requirements"
)

// DefaultSearchEnvVars lists the variables read for extra search paths.
// PATH is not one of them.
var DefaultSearchEnvVars = []string{"PYTHONPATH"}

// Analysis defaults.
const (
	DefaultAnalysisWorkers            = 0
	DefaultAnalysisMaxFileSize        = "1MiB"
	DefaultAnalysisScanParentPackages = true
)

// Python environment defaults.
const (
	DefaultPythonDetect        = true
	DefaultPythonInterpreter   = "python3"
	DefaultPythonUseVirtualenv = true
)

// Registry defaults.
const (
	DefaultRegistryCacheSize   = 4096
	DefaultRegistryConcurrency = 8
)

// Logging defaults.
const (
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "text"
)
