package eventbus

import "github.com/librescoot/reliable-udp/pkg/sink"

// Sink wraps a console sink with an optional Redis publisher: every
// delivery is written to the console sink first, then mirrored to the
// event bus so a monitoring process can observe deliveries without
// being on the critical path for saving them to disk.
type Sink struct {
	Console *sink.Console
	Bus     *Publisher
}

// DeliverText satisfies sink.TextSink.
func (s *Sink) DeliverText(message string) error {
	if err := s.Console.DeliverText(message); err != nil {
		return err
	}
	return s.Bus.PublishMessage(message)
}

// SaveFile satisfies sink.FileSink.
func (s *Sink) SaveFile(name string, data []byte) error {
	if err := s.Console.SaveFile(name, data); err != nil {
		return err
	}
	return s.Bus.PublishFile(name)
}

// SetSaveDir lets session.SetSaveDir's type-assertion reach through to
// the wrapped console.
func (s *Sink) SetSaveDir(dir string) { s.Console.SetSaveDir(dir) }
