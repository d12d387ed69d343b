//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital/patients/internal/domain/patient"
	"github.com/hospital/patients/internal/platform/db"
	"github.com/hospital/patients/internal/platform/middleware"
	"github.com/hospital/patients/pkg/failure"
)

func newServer() (*echo.Echo, echo.MiddlewareFunc) {
	logger := zerolog.Nop()
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	txm := db.TxMiddleware(db.NewPoolSource(globalPool), db.TxOptions{Logger: logger})
	patient.NewHandler(nil).RegisterRoutes(e.Group(""), txm)
	return e, txm
}

func request(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func storeFrom(c echo.Context) patient.Store {
	return patient.NewStore(db.TxFromContext(c.Request().Context()))
}

func TestPipeline_TwoWritesCommit(t *testing.T) {
	resetTable(t)
	e, txm := newServer()
	e.POST("/test/two-writes", func(c echo.Context) error {
		ctx := c.Request().Context()
		s := storeFrom(c)
		if _, err := s.Create(ctx, &patient.Patient{Name: "Uno", Cedula: "1710034065"}); err != nil {
			return err
		}
		if _, err := s.Create(ctx, &patient.Patient{Name: "Dos", Cedula: "0923456784"}); err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	}, txm)

	rec := request(e, http.MethodPost, "/test/two-writes", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, countPatients(t))
}

func TestPipeline_WriteThenFailureRollsBack(t *testing.T) {
	resetTable(t)
	e, txm := newServer()
	e.POST("/test/write-fail", func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := storeFrom(c).Create(ctx, &patient.Patient{Name: "Fantasma", Cedula: "1710034065"}); err != nil {
			return err
		}
		return failure.Wrap(errors.New("downstream exploded"), failure.KindDomain, "create failed")
	}, txm)

	rec := request(e, http.MethodPost, "/test/write-fail", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"create failed"}`, rec.Body.String())
	assert.Equal(t, 0, countPatients(t))
}

func TestPipeline_WriteThenPanicRollsBack(t *testing.T) {
	resetTable(t)
	e, txm := newServer()
	e.POST("/test/write-panic", func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := storeFrom(c).Create(ctx, &patient.Patient{Name: "Pánico", Cedula: "1710034065"}); err != nil {
			return err
		}
		panic("handler bug")
	}, txm)

	rec := request(e, http.MethodPost, "/test/write-panic", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, countPatients(t))
	assert.Zero(t, globalPool.Stat().AcquiredConns())
}

func TestPipeline_UncommittedWritesInvisible(t *testing.T) {
	resetTable(t)
	e, txm := newServer()
	var seenOutside int
	e.POST("/test/isolation", func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := storeFrom(c).Create(ctx, &patient.Patient{Name: "Oculto", Cedula: "1710034065"}); err != nil {
			return err
		}
		if err := globalPool.QueryRow(context.Background(), "SELECT count(*) FROM paciente").Scan(&seenOutside); err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	}, txm)

	rec := request(e, http.MethodPost, "/test/isolation", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, seenOutside)
	assert.Equal(t, 1, countPatients(t))
}

func TestPipeline_ReleasesConnections(t *testing.T) {
	resetTable(t)
	e, _ := newServer()

	for i := 0; i < 20; i++ {
		request(e, http.MethodGet, "/patients", "")
		request(e, http.MethodGet, "/patients/999", "")
		request(e, http.MethodPost, "/patients", `{"nombre":"X","cedula":"0000000000"}`)
	}

	assert.Zero(t, globalPool.Stat().AcquiredConns())
}

func TestPatients_CRUD(t *testing.T) {
	resetTable(t)
	e, _ := newServer()

	rec := request(e, http.MethodPost, "/patients", `{"nombre":"Maria","cedula":"1710034065","correo":"m@x.ec","edad":34,"direccion":"Quito","activo":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mensaje":"Guardado exitoso","id":1}`, rec.Body.String())

	rec = request(e, http.MethodGet, "/patients/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"nombre":"Maria","cedula":"1710034065","correo":"m@x.ec","edad":34,"direccion":"Quito","activo":true}`, rec.Body.String())

	rec = request(e, http.MethodPut, "/api/pacientes/1", `{"nombre":"Maria Jose","cedula":"1710034065","correo":"mj@x.ec","edad":35,"direccion":"Cuenca","activo":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(e, http.MethodPut, "/patients/1/status?active=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mensaje":"Paciente Desactivado"}`, rec.Body.String())

	rec = request(e, http.MethodGet, "/api/pacientes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"nombre":"Maria Jose","cedula":"1710034065","correo":"mj@x.ec","edad":35,"direccion":"Cuenca","activo":false}]`, rec.Body.String())
}

func TestPatients_CreateInvalidCedulaWritesNothing(t *testing.T) {
	resetTable(t)
	e, _ := newServer()

	rec := request(e, http.MethodPost, "/patients", `{"nombre":"Maria","cedula":"1712345678"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, countPatients(t))
}

func TestPatients_UpdateMissingTouchesNoOtherRow(t *testing.T) {
	resetTable(t)
	id := seedPatient(t, "Original", "0923456784")
	e, _ := newServer()

	rec := request(e, http.MethodPut, "/patients/999", `{"nombre":"Intruso","cedula":"1710034065"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Paciente no encontrado"}`, rec.Body.String())

	var name, cedula string
	require.NoError(t, globalPool.QueryRow(context.Background(),
		"SELECT nombre, cedula FROM paciente WHERE id = $1", id).Scan(&name, &cedula))
	assert.Equal(t, "Original", name)
	assert.Equal(t, "0923456784", cedula)
	assert.Equal(t, 1, countPatients(t))
}

func TestPatients_SetStatusMissingSucceeds(t *testing.T) {
	resetTable(t)
	e, _ := newServer()

	rec := request(e, http.MethodPut, "/api/pacientes/999/estado?activo=true", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mensaje":"Paciente Activado"}`, rec.Body.String())
	assert.Equal(t, 0, countPatients(t))
}

func TestMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(globalPool, findMigrationsDir())

	applied, err := m.Up(ctx, "public")
	require.NoError(t, err)
	assert.Zero(t, applied)

	statuses, err := m.Status(ctx, "public")
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Name)
	}
}

func TestHealthHandler(t *testing.T) {
	e := echo.New()
	e.GET("/health/db", db.HealthHandler(globalPool))

	rec := request(e, http.MethodGet, "/health/db", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestPatients_LongTextFieldsStored(t *testing.T) {
	resetTable(t)
	e, _ := newServer()
	long := strings.Repeat("a", 400)

	rec := request(e, http.MethodPost, "/patients",
		`{"nombre":"`+long+`","cedula":"1710034065","correo":"`+long+`","direccion":"`+long+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var name string
	require.NoError(t, globalPool.QueryRow(context.Background(),
		"SELECT nombre FROM paciente WHERE id = 1").Scan(&name))
	assert.Len(t, name, 400)
}

func TestPatients_OutOfRangeInputIsClientError(t *testing.T) {
	resetTable(t)
	id := seedPatient(t, "Original", "0923456784")
	e, _ := newServer()

	rec := request(e, http.MethodGet, "/patients/3000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = request(e, http.MethodPost, "/patients", `{"nombre":"Eva","cedula":"1700000001","edad":3000000000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(e, http.MethodPut, "/patients/"+strconv.Itoa(id), `{"nombre":"Eva","cedula":"1700000001","edad":3000000000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, countPatients(t))
}
