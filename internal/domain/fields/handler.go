package fields

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cliniccore/cliniccore/internal/platform/auth"
	"github.com/cliniccore/cliniccore/pkg/pagination"
)

type Handler struct {
	patients *PatientService
	visits   *VisitService
	admin    *AdminService
}

func NewHandler(patients *PatientService, visits *VisitService, admin *AdminService) *Handler {
	return &Handler{patients: patients, visits: visits, admin: admin}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "physician", "nurse")

	p := api.Group("/patients/:patientId", role)
	p.GET("/fields", h.GetPatientFields)
	p.PUT("/fields/:definitionId", h.SetPatientField)
	p.POST("/fields", h.BulkUpdatePatientFields)
	p.DELETE("/fields/values/:valueId", h.DeletePatientValue)
	p.GET("/field-history/:categoryId", h.GetFieldHistory)
	p.GET("/measure-names", h.ListMeasureNames)

	v := api.Group("/visits/:visitId", role)
	v.GET("/fields", h.GetVisitFields)
	v.PUT("/fields/:definitionId", h.SetVisitField)
	v.POST("/fields", h.BulkUpdateVisitFields)
	v.DELETE("/fields/values/:valueId", h.DeleteVisitValue)

	adm := api.Group("/admin", auth.RequireRole("admin"))
	adm.GET("/field-categories", h.ListCategories)
	adm.POST("/field-categories", h.CreateCategory)
	adm.GET("/field-categories/:id", h.GetCategory)
	adm.PUT("/field-categories/:id", h.UpdateCategory)
	adm.GET("/field-definitions", h.ListDefinitions)
	adm.POST("/field-definitions", h.CreateDefinition)
	adm.GET("/field-definitions/:id", h.GetDefinition)
	adm.PUT("/field-definitions/:id", h.UpdateDefinition)
	adm.POST("/field-definitions/:id/recalculate", h.RecalculateDefinition)
}

// httpError maps domain errors to transport status codes.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.Is(err, auth.ErrAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func actorOf(c echo.Context) (auth.Actor, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}
	return actor, nil
}

// -- patient endpoints --

func (h *Handler) GetPatientFields(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	out, err := h.patients.GetFields(c.Request().Context(), actor, patientID, c.QueryParam("lang"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type setFieldRequest struct {
	Value interface{} `json:"value"`
}

func (h *Handler) SetPatientField(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	definitionID, err := pathID(c, "definitionId")
	if err != nil {
		return err
	}
	var req setFieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.patients.SetField(c.Request().Context(), actor, patientID, definitionID, req.Value)
	if err != nil {
		return httpError(err)
	}
	if v == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) BulkUpdatePatientFields(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	var writes []FieldWrite
	if err := c.Bind(&writes); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	statuses, err := h.patients.BulkUpdate(c.Request().Context(), actor, patientID, writes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, statuses)
}

func (h *Handler) DeletePatientValue(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	valueID, err := pathID(c, "valueId")
	if err != nil {
		return err
	}
	if err := h.patients.DeleteValue(c.Request().Context(), actor, patientID, valueID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetFieldHistory(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	categoryID, err := pathID(c, "categoryId")
	if err != nil {
		return err
	}
	history, err := h.visits.GetFieldHistory(c.Request().Context(), actor, patientID, categoryID, c.QueryParam("lang"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) ListMeasureNames(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	names, err := h.patients.ListMeasureNames(c.Request().Context(), actor, patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, names)
}

// -- visit endpoints --

func (h *Handler) GetVisitFields(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return err
	}
	out, err := h.visits.GetFields(c.Request().Context(), actor, visitID, c.QueryParam("lang"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SetVisitField(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return err
	}
	definitionID, err := pathID(c, "definitionId")
	if err != nil {
		return err
	}
	var req setFieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.visits.SetField(c.Request().Context(), actor, visitID, definitionID, req.Value)
	if err != nil {
		return httpError(err)
	}
	if v == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) BulkUpdateVisitFields(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return err
	}
	var writes []FieldWrite
	if err := c.Bind(&writes); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	statuses, err := h.visits.BulkUpdate(c.Request().Context(), actor, visitID, writes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, statuses)
}

func (h *Handler) DeleteVisitValue(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "visitId")
	if err != nil {
		return err
	}
	valueID, err := pathID(c, "valueId")
	if err != nil {
		return err
	}
	if err := h.visits.DeleteValue(c.Request().Context(), actor, visitID, valueID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- admin endpoints --

func (h *Handler) ListCategories(c echo.Context) error {
	pg := pagination.FromContext(c)
	cats, total, err := h.admin.ListCategories(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cats, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateCategory(c echo.Context) error {
	var in CategoryInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cat, err := h.admin.CreateCategory(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cat)
}

func (h *Handler) GetCategory(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	cat, err := h.admin.GetCategory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cat)
}

func (h *Handler) UpdateCategory(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in CategoryInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cat, err := h.admin.UpdateCategory(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cat)
}

func (h *Handler) ListDefinitions(c echo.Context) error {
	pg := pagination.FromContext(c)
	defs, total, err := h.admin.ListDefinitions(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(defs, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateDefinition(c echo.Context) error {
	var in DefinitionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	def, err := h.admin.CreateDefinition(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, def)
}

func (h *Handler) GetDefinition(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	def, err := h.admin.GetDefinition(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, def)
}

func (h *Handler) UpdateDefinition(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in DefinitionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	def, err := h.admin.UpdateDefinition(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, def)
}

func (h *Handler) RecalculateDefinition(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	summary, err := h.patients.RecalculateDefinition(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
