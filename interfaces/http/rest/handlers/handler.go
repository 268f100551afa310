package handlers

import (
	"errors"
	"net/http"

	"esence/application/commands/bus"
	querybus "esence/application/queries/bus"
	"esence/pkg/common"

	apperrors "esence/pkg/errors"

	"go.uber.org/zap"
)

// maxControlBody bounds request bodies of the control surface
const maxControlBody = 1 << 20

// controlHandler holds what every control surface handler needs
type controlHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *apperrors.ErrorHandler
	logger     *zap.Logger
}

func newControlHandler(commandBus *bus.CommandBus, queryBus *querybus.QueryBus, errs *apperrors.ErrorHandler, logger *zap.Logger) controlHandler {
	return controlHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     errs,
		logger:     logger,
	}
}

// decode parses a JSON body. An empty body is accepted when optional is set.
func (h controlHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	err := common.ParseJSONBody(w, r, v, maxControlBody)
	if err == nil || (optional && errors.Is(err, common.ErrEmptyBody)) {
		return true
	}
	h.errors.Handle(w, r, apperrors.NewValidationError("Invalid request body: "+err.Error()))
	return false
}

func (h controlHandler) send(w http.ResponseWriter, r *http.Request, cmd bus.Command, status int) {
	result, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, status, result)
}

func (h controlHandler) ask(w http.ResponseWriter, r *http.Request, q querybus.Query) {
	result, err := h.queryBus.Ask(r.Context(), q)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}
