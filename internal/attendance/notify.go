package attendance

// Level is the severity of a user-facing notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier receives the toasts shown to the instructor. It may be called from
// the delivery goroutine.
type Notifier interface {
	Notify(level Level, msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, msg string)

func (f NotifierFunc) Notify(level Level, msg string) { f(level, msg) }

type discard struct{}

func (discard) Notify(Level, string) {}
