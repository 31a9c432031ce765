package screening

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/pkg/pagination"
)

// genericFailure is all a user sees of fatal and delivery errors.
const genericFailure = "Something went wrong. Please try again."

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/screening/instruments", h.ListInstruments)
	api.GET("/screening/instruments/:instrument", h.GetInstrument)

	accounts := api.Group("/accounts/:account_id/screening")
	accounts.POST("/instruments/:instrument/sessions", h.StartSession)
	accounts.GET("/instruments/:instrument/current", h.GetCurrentSession)
	accounts.GET("/sessions", h.ListSessions)
	accounts.GET("/progress", h.GetProgress)
	accounts.GET("/result", h.GetResult)
	accounts.POST("/finish", h.FinishCascade)

	sessions := api.Group("/screening/sessions/:session_id")
	sessions.GET("", h.GetSession)
	sessions.PUT("/answers", h.RecordAnswer)
	sessions.GET("/answers", h.ListAnswers)
	sessions.POST("/complete", h.CompleteSession)
}

// -- Catalog --

func (h *Handler) ListInstruments(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Catalog().Instruments())
}

func (h *Handler) GetInstrument(c echo.Context) error {
	inst, err := h.svc.Catalog().Resolve(ParseIdentifier(c.Param("instrument")))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "instrument not found")
	}
	return c.JSON(http.StatusOK, inst)
}

// -- Sessions --

func (h *Handler) StartSession(c echo.Context) error {
	accountID, err := uuidParam(c, "account_id")
	if err != nil {
		return err
	}
	session, err := h.svc.StartSession(c.Request().Context(), accountID, ParseIdentifier(c.Param("instrument")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

// GetCurrentSession returns the current session; with ?complete=true only
// a completed one counts.
func (h *Handler) GetCurrentSession(c echo.Context) error {
	accountID, err := uuidParam(c, "account_id")
	if err != nil {
		return err
	}
	ref := ParseIdentifier(c.Param("instrument"))
	find := h.svc.FindCurrentSession
	if c.QueryParam("complete") == "true" {
		find = h.svc.FindCurrentCompletedSession
	}
	session, found, err := find(c.Request().Context(), accountID, ref)
	if err != nil {
		return toHTTPError(err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "no current session")
	}
	return c.JSON(http.StatusOK, session)
}

func (h *Handler) ListSessions(c echo.Context) error {
	accountID, err := uuidParam(c, "account_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSessions(c.Request().Context(), accountID, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	if items == nil {
		items = []*Session{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSession(c echo.Context) error {
	sessionID, err := uuidParam(c, "session_id")
	if err != nil {
		return err
	}
	session, err := h.svc.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, session)
}

type recordAnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id"`
	AnswerID   uuid.UUID `json:"answer_id"`
}

func (h *Handler) RecordAnswer(c echo.Context) error {
	sessionID, err := uuidParam(c, "session_id")
	if err != nil {
		return err
	}
	var req recordAnswerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	answer, err := h.svc.RecordAnswer(c.Request().Context(), sessionID, req.QuestionID, req.AnswerID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, answer)
}

type answerView struct {
	QuestionID   uuid.UUID `json:"question_id"`
	QuestionCode string    `json:"question_code"`
	DisplayOrder int       `json:"display_order"`
	AnswerID     uuid.UUID `json:"answer_id"`
	AnswerCode   string    `json:"answer_code"`
	Label        string    `json:"label"`
	Points       int       `json:"points"`
}

func (h *Handler) ListAnswers(c echo.Context) error {
	sessionID, err := uuidParam(c, "session_id")
	if err != nil {
		return err
	}
	answers, err := h.svc.FindAnswers(c.Request().Context(), sessionID)
	if err != nil {
		return toHTTPError(err)
	}
	views := make([]answerView, 0, len(answers))
	for _, aq := range answers {
		views = append(views, answerView{
			QuestionID:   aq.Question.ID,
			QuestionCode: aq.Question.Code,
			DisplayOrder: aq.Question.DisplayOrder,
			AnswerID:     aq.Answer.ID,
			AnswerCode:   aq.Answer.Code,
			Label:        aq.Answer.Label,
			Points:       aq.Answer.Points,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) CompleteSession(c echo.Context) error {
	sessionID, err := uuidParam(c, "session_id")
	if err != nil {
		return err
	}
	session, err := h.svc.CompleteSession(c.Request().Context(), sessionID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// -- Cascade --

func (h *Handler) GetProgress(c echo.Context) error {
	accountID, err := uuidParam(c, "account_id")
	if err != nil {
		return err
	}
	progress, err := h.svc.Progress(c.Request().Context(), accountID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, progress)
}

type resultResponse struct {
	Resolved    bool           `json:"resolved"`
	State       CascadeState   `json:"state"`
	Outstanding []InstrumentID `json:"outstanding,omitempty"`
	Result      *CascadeResult `json:"result,omitempty"`
}

// GetResult answers 200 either way: an unresolvable cascade is not an
// error, it tells the client what is left to do.
func (h *Handler) GetResult(c echo.Context) error {
	accountID, err := uuidParam(c, "account_id")
	if err != nil {
		return err
	}
	result, err := h.svc.Resolve(c.Request().Context(), accountID)
	var notResolvable *NotResolvableError
	if errors.As(err, &notResolvable) {
		return c.JSON(http.StatusOK, resultResponse{
			State:       notResolvable.State,
			Outstanding: notResolvable.Outstanding,
		})
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resultResponse{Resolved: true, State: result.State, Result: result})
}

func (h *Handler) FinishCascade(c echo.Context) error {
	accountID, err := uuidParam(c, "account_id")
	if err != nil {
		return err
	}
	result, err := h.svc.FinishCascade(c.Request().Context(), accountID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resultResponse{Resolved: true, State: result.State, Result: result})
}

// -- Errors --

type validationBody struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields"`
}

// toHTTPError maps service errors onto responses. Fatal and delivery
// errors are already logged and alerted by the service; the user only sees
// a generic message.
func toHTTPError(err error) error {
	var (
		verr  *ValidationError
		state *InvalidStateError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validationBody{Message: "validation failed", Fields: verr.Fields})
	case errors.As(err, &state):
		return echo.NewHTTPError(http.StatusConflict, state.Reason)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, genericFailure).SetInternal(err)
	}
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}
