// Package sink defines the application-facing delivery interfaces the
// session layer reassembles complete text messages and files into, and
// provides the directory/writer-backed default implementation. The
// interfaces let alternative sinks (e.g. pkg/eventbus) be layered on
// top without the session layer knowing about them.
package sink

// TextSink receives fully reassembled text messages.
type TextSink interface {
	DeliverText(message string) error
}

// FileSink receives fully reassembled files, already concatenated in
// fragment order.
type FileSink interface {
	SaveFile(name string, data []byte) error
}

// Sink bundles both delivery interfaces; most implementations satisfy
// both.
type Sink interface {
	TextSink
	FileSink
}
