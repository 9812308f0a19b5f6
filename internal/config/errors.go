package config

// Error is a ConfigError (§7): a schema or validation failure in the local
// config file. Kernel startup aborts when Load returns one.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "invalid local config: " + e.Reason
}
