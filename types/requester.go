package types

import (
	"log/slog"
)

// Identity of a peer connection that chunks are assigned to.
type Requester string

var _ slog.LogValuer = Requester("")

func (me Requester) LogValue() slog.Value {
	return slog.StringValue(string(me))
}
