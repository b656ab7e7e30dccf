package core

// ControllerDeps captures optional dependencies for session controllers.
type ControllerDeps struct {
	Opener    SinkOpener
	Decoders  DecoderFactory
	EventSink EventSink
	Reporter  ErrorReporter
	Tasks     *TaskSet
}
