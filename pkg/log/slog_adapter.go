package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.NodeID != 0 {
		attrs = append(attrs, slog.Uint64("node", uint64(event.NodeID)))
	}
	if event.Module != "" {
		attrs = append(attrs, slog.String("module", event.Module))
	}
	if event.Path != "" {
		attrs = append(attrs, slog.String("path", event.Path))
	}

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Driver != nil:
		attrs = append(attrs,
			slog.String("driver", event.Driver.Driver),
			slog.Float64("support", float64(event.Driver.Support)),
			slog.Bool("selected", event.Driver.Selected),
		)
		if event.Driver.SearchPath != "" {
			attrs = append(attrs, slog.String("search_path", event.Driver.SearchPath))
		}
	case event.Resource != nil:
		attrs = append(attrs,
			slog.String("type", event.Resource.Type),
			slog.Uint64("base", event.Resource.Base),
			slog.Uint64("length", event.Resource.Length),
			slog.Bool("acquired", event.Resource.Acquired),
		)
	case event.Publish != nil:
		attrs = append(attrs, slog.Bool("published", event.Publish.Published))
		if event.Publish.Partition {
			attrs = append(attrs,
				slog.Int64("offset", event.Publish.Offset),
				slog.Int64("size", event.Publish.Size),
			)
		}
		if event.Publish.OldPath != "" {
			attrs = append(attrs, slog.String("old_path", event.Publish.OldPath))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "devmgr", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
