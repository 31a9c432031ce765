package screening

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newHandlerFixture(t *testing.T) (*Handler, *serviceFixture, *echo.Echo) {
	t.Helper()
	f := newServiceFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func newContext(e *echo.Echo, method, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Fatalf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
	return he
}

func TestHandler_GetInstrument(t *testing.T) {
	h, _, e := newHandlerFixture(t)

	c, rec := newContext(e, http.MethodGet, "", "instrument", "gad7")
	if err := h.GetInstrument(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var inst Instrument
	if err := json.Unmarshal(rec.Body.Bytes(), &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.ID != InstrumentDepthAnxiety || len(inst.Questions) != 5 || len(inst.CarryOver) != 2 {
		t.Errorf("unexpected instrument: %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodGet, "", "instrument", "bdi")
	expectHTTPError(t, h.GetInstrument(c), http.StatusNotFound)
}

func TestHandler_StartSession(t *testing.T) {
	h, f, e := newHandlerFixture(t)

	c, rec := newContext(e, http.MethodPost, "", "account_id", f.accountID.String(), "instrument", "phq4")
	if err := h.StartSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var s Session
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s.InstrumentID != InstrumentScreener || !s.Current {
		t.Errorf("unexpected session: %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodPost, "", "account_id", "not-a-uuid", "instrument", "phq4")
	expectHTTPError(t, h.StartSession(c), http.StatusBadRequest)

	c, _ = newContext(e, http.MethodPost, "", "account_id", uuid.New().String(), "instrument", "phq4")
	he := expectHTTPError(t, h.StartSession(c), http.StatusUnprocessableEntity)
	body, ok := he.Message.(validationBody)
	if !ok || len(body.Fields) != 1 || body.Fields[0].Field != "account_id" {
		t.Errorf("unexpected validation body %+v", he.Message)
	}
}

func TestHandler_RecordAnswerAndComplete(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	s := f.start(t, InstrumentTrauma)
	inst, _ := f.svc.Catalog().Instrument(InstrumentTrauma)

	for _, q := range inst.Questions {
		payload, _ := json.Marshal(recordAnswerRequest{QuestionID: q.ID, AnswerID: q.Answers[1].ID})
		c, rec := newContext(e, http.MethodPut, string(payload), "session_id", s.ID.String())
		if err := h.RecordAnswer(c); err != nil {
			t.Fatalf("answer %s: %v", q.Code, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	c, rec := newContext(e, http.MethodGet, "", "session_id", s.ID.String())
	if err := h.ListAnswers(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var views []answerView
	json.Unmarshal(rec.Body.Bytes(), &views)
	if len(views) != 5 || views[0].QuestionCode != "pcptsd.q1" || views[0].Points != 1 {
		t.Errorf("unexpected answers: %s", rec.Body.String())
	}

	c, rec = newContext(e, http.MethodPost, "", "session_id", s.ID.String())
	if err := h.CompleteSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = newContext(e, http.MethodPost, "", "session_id", s.ID.String())
	expectHTTPError(t, h.CompleteSession(c), http.StatusConflict)

	q := inst.Questions[0]
	payload, _ := json.Marshal(recordAnswerRequest{QuestionID: q.ID, AnswerID: q.Answers[0].ID})
	c, _ = newContext(e, http.MethodPut, string(payload), "session_id", s.ID.String())
	expectHTTPError(t, h.RecordAnswer(c), http.StatusConflict)
}

func TestHandler_GetSession_NotFound(t *testing.T) {
	h, _, e := newHandlerFixture(t)

	c, _ := newContext(e, http.MethodGet, "", "session_id", uuid.New().String())
	expectHTTPError(t, h.GetSession(c), http.StatusNotFound)
}

func TestHandler_GetCurrentSession(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	s := f.start(t, InstrumentScreener)

	c, rec := newContext(e, http.MethodGet, "", "account_id", f.accountID.String(), "instrument", "SCREENER")
	if err := h.GetCurrentSession(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), s.ID.String()) {
		t.Errorf("expected current session in body: %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/?complete=true", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("account_id", "instrument")
	c.SetParamValues(f.accountID.String(), "SCREENER")
	expectHTTPError(t, h.GetCurrentSession(c), http.StatusNotFound)
}

func TestHandler_ListSessions(t *testing.T) {
	h, f, e := newHandlerFixture(t)

	c, rec := newContext(e, http.MethodGet, "", "account_id", f.accountID.String())
	if err := h.ListSessions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array: %s", rec.Body.String())
	}
}

func TestHandler_GetResult(t *testing.T) {
	h, f, e := newHandlerFixture(t)

	c, rec := newContext(e, http.MethodGet, "", "account_id", f.accountID.String())
	if err := h.GetResult(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var pending resultResponse
	json.Unmarshal(rec.Body.Bytes(), &pending)
	if pending.Resolved || len(pending.Outstanding) != 1 || pending.Outstanding[0] != InstrumentScreener {
		t.Errorf("unexpected pending result: %s", rec.Body.String())
	}

	f.run(t, InstrumentScreener, 0, 1, 0, 1)
	c, rec = newContext(e, http.MethodGet, "", "account_id", f.accountID.String())
	if err := h.GetResult(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var done resultResponse
	json.Unmarshal(rec.Body.Bytes(), &done)
	if !done.Resolved || done.Result == nil || done.Result.Recommendation != LevelPeerCoach {
		t.Errorf("unexpected result: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"recommendation":"PEER_COACH"`) {
		t.Errorf("recommendation should encode by name: %s", rec.Body.String())
	}
}

func TestHandler_FinishCascade(t *testing.T) {
	t.Run("integration fatal is a generic 500", func(t *testing.T) {
		h, f, e := newHandlerFixture(t)
		f.run(t, InstrumentScreener, 3, 3, 3, 3)

		c, _ := newContext(e, http.MethodPost, "", "account_id", f.accountID.String())
		he := expectHTTPError(t, h.FinishCascade(c), http.StatusInternalServerError)
		if he.Message != genericFailure {
			t.Errorf("unexpected message %v", he.Message)
		}
		if !errors.Is(he.Internal, ErrIntegrationFatal) {
			t.Errorf("expected internal cause to be kept, got %v", he.Internal)
		}
	})

	t.Run("resolved", func(t *testing.T) {
		h, f, e := newHandlerFixture(t)
		f.run(t, InstrumentScreener, 0, 0, 0, 0)

		c, rec := newContext(e, http.MethodPost, "", "account_id", f.accountID.String())
		if err := h.FinishCascade(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var body resultResponse
		json.Unmarshal(rec.Body.Bytes(), &body)
		if !body.Resolved || body.State != StateScreenerCompleteBelowThreshold {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})
}
