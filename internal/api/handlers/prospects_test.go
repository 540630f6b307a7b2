package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

func newTestProspect() *domain.Prospect {
	p := domain.NewProspect("p-1", testOwner, "Dana", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	p.Platform = "instagram"
	return p
}

func TestProspectHandler_Create(t *testing.T) {
	mockSvc := new(MockProspectService)
	mockSvc.On("Create", mock.Anything, service.CreateProspectInput{
		OwnerID:  testOwner,
		Name:     "Dana",
		Platform: "instagram",
		Notes:    "Runs a gym",
	}).Return(newTestProspect(), nil)

	body := `{"name":"Dana","platform":"instagram","notes":"Runs a gym"}`
	w := httptest.NewRecorder()
	NewProspectHandler(mockSvc).Create(w, ownedRequest(http.MethodPost, "/prospects", []byte(body)))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "p-1", data["id"])
	assert.Equal(t, "first_contact", data["current_stage"])
	assert.Equal(t, "open", data["outcome"])
	mockSvc.AssertExpectations(t)
}

func TestProspectHandler_Create_MissingName(t *testing.T) {
	mockSvc := new(MockProspectService)
	w := httptest.NewRecorder()

	NewProspectHandler(mockSvc).Create(w, ownedRequest(http.MethodPost, "/prospects", []byte(`{"name":"  "}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")
}

func TestProspectHandler_Get_OtherOwnerIsNotFound(t *testing.T) {
	mockSvc := new(MockProspectService)
	mockSvc.On("Get", mock.Anything, testOwner, "p-foreign").Return(nil, domain.ErrProspectNotFound)

	w := httptest.NewRecorder()
	NewProspectHandler(mockSvc).Get(w, ownedRequest(http.MethodGet, "/prospects/p-foreign", nil, "id", "p-foreign"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "prospect not found")
}

func TestProspectHandler_UpdateOutcome(t *testing.T) {
	mockSvc := new(MockProspectService)
	won := newTestProspect()
	won.Outcome = domain.OutcomeWon
	mockSvc.On("UpdateOutcome", mock.Anything, testOwner, "p-1", domain.OutcomeWon).Return(won, nil)

	w := httptest.NewRecorder()
	NewProspectHandler(mockSvc).UpdateOutcome(w, ownedRequest(http.MethodPut, "/prospects/p-1/outcome", []byte(`{"outcome":"won"}`), "id", "p-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "won", decodeData(t, w)["outcome"])
	mockSvc.AssertExpectations(t)
}

func TestProspectHandler_UpdateOutcome_Invalid(t *testing.T) {
	mockSvc := new(MockProspectService)

	w := httptest.NewRecorder()
	NewProspectHandler(mockSvc).UpdateOutcome(w, ownedRequest(http.MethodPut, "/prospects/p-1/outcome", []byte(`{"outcome":"maybe"}`), "id", "p-1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "UpdateOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
