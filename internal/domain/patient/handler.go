package patient

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hospital/patients/internal/platform/db"
	"github.com/hospital/patients/pkg/failure"
)

const (
	MsgSaved       = "Guardado exitoso"
	MsgActivated   = "Paciente Activado"
	MsgDeactivated = "Paciente Desactivado"
	MsgNotFound    = "Paciente no encontrado"
)

// StoreFactory builds the Store for one request from its transaction.
type StoreFactory func(q db.Querier) Store

// MessageResponse is the body of create and status responses.
type MessageResponse struct {
	Message string `json:"mensaje"`
	ID      int    `json:"id,omitempty"`
}

// Handler serves the patient routes. It must be mounted behind
// db.TxMiddleware, which supplies the transaction each request works in.
type Handler struct {
	newStore StoreFactory
}

// NewHandler returns a Handler that builds stores with newStore, or NewStore
// when newStore is nil.
func NewHandler(newStore StoreFactory) *Handler {
	if newStore == nil {
		newStore = NewStore
	}
	return &Handler{newStore: newStore}
}

// RegisterRoutes mounts the patient routes on g, each wrapped in m. Passing
// the transaction middleware per route keeps unmatched paths from acquiring
// a connection.
func (h *Handler) RegisterRoutes(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.GET("/patients", h.List, m...)
	g.POST("/patients", h.Create, m...)
	g.GET("/patients/:id", h.Get, m...)
	g.PUT("/patients/:id", h.Update, m...)
	g.PUT("/patients/:id/status", h.SetStatus, m...)

	// Paths used by the existing web client.
	g.GET("/api/pacientes", h.List, m...)
	g.POST("/api/pacientes", h.Create, m...)
	g.GET("/api/pacientes/:id", h.Get, m...)
	g.PUT("/api/pacientes/:id", h.Update, m...)
	g.PUT("/api/pacientes/:id/estado", h.SetStatus, m...)
}

func (h *Handler) service(c echo.Context) (*Service, error) {
	tx := db.TxFromContext(c.Request().Context())
	if tx == nil {
		return nil, failure.New(failure.KindFatal, "no transaction bound to request")
	}
	return NewService(h.newStore(tx)), nil
}

func (h *Handler) List(c echo.Context) error {
	svc, err := h.service(c)
	if err != nil {
		return err
	}
	list, err := svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*Patient{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) Create(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return err
	}
	svc, err := h.service(c)
	if err != nil {
		return err
	}
	id, err := svc.Create(c.Request().Context(), &p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: MsgSaved, ID: id})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	svc, err := h.service(c)
	if err != nil {
		return err
	}
	p, err := svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if p == nil {
		return failure.New(failure.KindNotFound, MsgNotFound)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return err
	}
	p.ID = id

	svc, err := h.service(c)
	if err != nil {
		return err
	}
	updated, err := svc.Update(c.Request().Context(), &p)
	if err != nil {
		return err
	}
	if updated == nil {
		return failure.New(failure.KindNotFound, MsgNotFound)
	}
	return c.JSON(http.StatusOK, updated)
}

// SetStatus reads the flag from ?active= or the legacy ?activo=. A missing
// flag deactivates.
func (h *Handler) SetStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	active, err := activeParam(c)
	if err != nil {
		return err
	}
	svc, err := h.service(c)
	if err != nil {
		return err
	}
	if err := svc.SetStatus(c.Request().Context(), id, active); err != nil {
		return err
	}

	msg := MsgDeactivated
	if active {
		msg = MsgActivated
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: msg})
}

// pathID parses the :id segment. Ids are int4 in storage, so an integer
// outside that range cannot name a patient.
func pathID(c echo.Context) (int, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, failure.Wrap(err, failure.KindNotFound, MsgNotFound)
		}
		return 0, failure.Wrap(err, failure.KindValidation, "invalid id")
	}
	return int(id), nil
}

func activeParam(c echo.Context) (bool, error) {
	raw := c.QueryParam("active")
	if raw == "" {
		raw = c.QueryParam("activo")
	}
	if raw == "" {
		return false, nil
	}
	active, err := strconv.ParseBool(raw)
	if err != nil {
		return false, failure.Wrap(err, failure.KindValidation, "invalid active flag")
	}
	return active, nil
}
