package websocket

import (
	"bytes"
	"context"
	"encoding/json"

	"esence/application/commands"
	"esence/application/commands/bus"
	"esence/application/queries"
	querybus "esence/application/queries/bus"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// Dispatcher answers command frames sent by a client
type Dispatcher interface {
	Dispatch(ctx context.Context, in Frame) Frame
	Snapshot(ctx context.Context) (Frame, error)
}

type route func(ctx context.Context, data json.RawMessage) (interface{}, error)

// BusDispatcher runs client commands through the command and query buses
type BusDispatcher struct {
	queryBus *querybus.QueryBus
	routes   map[string]route
	logger   *zap.Logger
}

// NewBusDispatcher creates a dispatcher over the application buses
func NewBusDispatcher(commandBus *bus.CommandBus, queryBus *querybus.QueryBus, logger *zap.Logger) *BusDispatcher {
	d := &BusDispatcher{
		queryBus: queryBus,
		logger:   logger,
	}
	d.routes = map[string]route{
		"get_state":   askQuery[queries.GetStateQuery](queryBus),
		"get_pending": askQuery[queries.ListPendingQuery](queryBus),
		"get_threads": askQuery[queries.ListThreadsQuery](queryBus),
		"approve":     sendCommand[commands.ApproveThreadCommand](commandBus),
		"reject":      sendCommand[commands.RejectThreadCommand](commandBus),
		"set_mood":    sendCommand[commands.SetMoodCommand](commandBus),
		"chat":        sendCommand[commands.ChatCommand](commandBus),
		"send":        sendCommand[commands.SendMessageCommand](commandBus),
	}
	return d
}

// Dispatch runs one command frame and returns its reply
func (d *BusDispatcher) Dispatch(ctx context.Context, in Frame) Frame {
	handle, ok := d.routes[in.Type]
	if !ok {
		return ErrorFrame(in.RequestID, string(apperrors.ErrorTypeValidation), "unknown command type: "+in.Type)
	}

	result, err := handle(ctx, in.Data)
	if err != nil {
		return d.errorFrame(in, err)
	}

	out, err := NewFrame(ResultType(in.Type), result)
	if err != nil {
		d.logger.Error("Failed to encode command result", zap.String("type", in.Type), zap.Error(err))
		return ErrorFrame(in.RequestID, string(apperrors.ErrorTypeInternal), "failed to encode result")
	}
	out.RequestID = in.RequestID
	return out
}

// Snapshot returns the node state frame sent on connect
func (d *BusDispatcher) Snapshot(ctx context.Context) (Frame, error) {
	state, err := d.queryBus.Ask(ctx, queries.GetStateQuery{})
	if err != nil {
		return Frame{}, err
	}
	return NewFrame(FrameState, state)
}

func askQuery[Q querybus.Query](b *querybus.QueryBus) route {
	return func(ctx context.Context, data json.RawMessage) (interface{}, error) {
		var q Q
		if err := decodeData(data, &q); err != nil {
			return nil, err
		}
		return b.Ask(ctx, q)
	}
}

func sendCommand[C bus.Command](b *bus.CommandBus) route {
	return func(ctx context.Context, data json.RawMessage) (interface{}, error) {
		var cmd C
		if err := decodeData(data, &cmd); err != nil {
			return nil, err
		}
		return b.Send(ctx, cmd)
	}
}

func (d *BusDispatcher) errorFrame(in Frame, err error) Frame {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return ErrorFrame(in.RequestID, string(appErr.Type), appErr.Message)
	}
	d.logger.Error("Websocket command failed", zap.String("type", in.Type), zap.Error(err))
	return ErrorFrame(in.RequestID, string(apperrors.ErrorTypeInternal), "command failed")
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("invalid command data: " + err.Error())
	}
	return nil
}
