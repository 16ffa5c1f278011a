package codec

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/share-board/pkg/types"
)

// Sink receives classified frames. The room reconciler and the dirty guard
// sit behind it.
type Sink interface {
	Chat(types.ChatMessage)
	SharedText(string)
	Drawing(types.Drawing)
	SaveAcked(types.Action)
}

type Dispatcher struct {
	sink Sink
	log  *zap.Logger
}

func NewDispatcher(sink Sink, log *zap.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, log: log}
}

// Dispatch decodes one frame and hands it to the sink. Malformed or unknown
// frames are logged and dropped; they never reach the sink.
func (d *Dispatcher) Dispatch(frame any) bool {
	in, err := Decode(frame)
	if err != nil {
		d.log.Warn("dropping inbound frame", zap.Error(err))
		return false
	}

	switch m := in.(type) {
	case types.ChatReceived:
		d.sink.Chat(m.Message)
	case types.SharedTextReceived:
		d.sink.SharedText(m.Text)
	case types.DrawingReceived:
		d.sink.Drawing(m.Drawing)
	case types.SaveAcked:
		d.sink.SaveAcked(m.Target)
	}
	return true
}
