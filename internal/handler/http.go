package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"design-server/internal/middleware"
	"design-server/internal/models"
	"design-server/internal/repository"
	"design-server/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIError is the standardized error response body.
type APIError struct {
	Message string `json:"message"`
}

// InsufficientCreditsError is the 402 response body. Required and Current are
// the server's numbers so the UI can show an exact top-up amount.
type InsufficientCreditsError struct {
	Message  string `json:"message"`
	Required int    `json:"required"`
	Current  int    `json:"current"`
}

// SessionResponse is the external view of a design session.
type SessionResponse struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	Step             string    `json:"step"`
	Prompt           string    `json:"prompt,omitempty"`
	Style            string    `json:"style,omitempty"`
	Color            string    `json:"color,omitempty"`
	ProductType      string    `json:"productType,omitempty"`
	ImageURLs        []string  `json:"imageUrls"`
	SelectedImageURL *string   `json:"selectedImageUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SessionListResponse wraps a page of sessions with the pagination cursor.
type SessionListResponse struct {
	Sessions   []SessionResponse `json:"sessions"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// BalanceResponse carries the user's credit balance.
type BalanceResponse struct {
	Balance int `json:"balance"`
}

func toSessionResponse(s *models.DesignSession) SessionResponse {
	urls := make([]string, 0, len(s.GeneratedImages))
	for _, img := range s.GeneratedImages {
		urls = append(urls, img.URL)
	}
	return SessionResponse{
		ID:               s.ID.String(),
		Status:           string(s.Status),
		Step:             string(s.Step),
		Prompt:           s.Prompt,
		Style:            s.Style,
		Color:            s.Color,
		ProductType:      s.ProductType,
		ImageURLs:        urls,
		SelectedImageURL: s.SelectedImageURL,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// DesignHandler serves the design workflow HTTP API.
type DesignHandler struct {
	service   *service.WorkflowService
	logger    *zap.Logger
	jwtSecret string
}

// NewDesignHandler creates a DesignHandler.
func NewDesignHandler(s *service.WorkflowService, logger *zap.Logger, jwtSecret string) *DesignHandler {
	return &DesignHandler{
		service:   s,
		logger:    logger.Named("DesignHandler"),
		jwtSecret: jwtSecret,
	}
}

// RegisterRoutes wires the API routes.
func (h *DesignHandler) RegisterRoutes(e *echo.Echo) {
	authMiddleware := middleware.JWTAuthMiddleware(h.jwtSecret)

	designs := e.Group("/designs", authMiddleware)
	{
		designs.POST("", h.startSession)
		designs.GET("", h.listSessions)
		designs.GET("/:id", h.getSession)
		designs.PUT("/:id/draft", h.updateDraft)
		designs.POST("/:id/style", h.chooseStyle)
		designs.POST("/:id/color", h.chooseColor)
		designs.POST("/:id/select", h.selectImage)
		designs.POST("/:id/tools", h.applyTool)
		designs.POST("/:id/undo", h.undoEdit)
		designs.POST("/:id/submit", h.submitSession)
		designs.POST("/:id/remix", h.remixSession)
		designs.DELETE("/:id", h.deleteSession)
	}

	credits := e.Group("/credits", authMiddleware)
	{
		credits.GET("/balance", h.getBalance)
	}

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

func identityFromContext(c echo.Context) (service.Identity, error) {
	userID, ok := c.Get(middleware.ContextKeyUserID).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return service.Identity{}, errors.New("user_id missing from context")
	}
	token, _ := c.Get(middleware.ContextKeyToken).(string)
	return service.Identity{UserID: userID, Token: token}, nil
}

func sessionIDFromPath(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func handleServiceError(c echo.Context, err error) error {
	var ibe *models.InsufficientBalanceError
	if errors.As(err, &ibe) {
		return c.JSON(http.StatusPaymentRequired, InsufficientCreditsError{
			Message:  ibe.Error(),
			Required: ibe.Required,
			Current:  ibe.Current,
		})
	}

	var statusCode int
	var apiErr APIError

	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		statusCode = http.StatusUnauthorized
		apiErr = APIError{Message: "Unauthorized"}
	case errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: "Resource not found or access denied"}
	case errors.Is(err, models.ErrSessionLocked),
		errors.Is(err, models.ErrGenerationInProgress):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrInvalidStep),
		errors.Is(err, models.ErrNoImageSelected),
		errors.Is(err, models.ErrImageNotInSession),
		errors.Is(err, models.ErrNothingToUndo),
		errors.Is(err, models.ErrEmptyPrompt),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, repository.ErrInvalidCursor):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrGenerationTimeout),
		errors.Is(err, models.ErrGenerationFailed),
		errors.Is(err, models.ErrNoOutput),
		errors.Is(err, models.ErrUpstream):
		statusCode = http.StatusBadGateway
		apiErr = APIError{Message: err.Error()}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "Internal server error"}
	}
	return c.JSON(statusCode, apiErr)
}

type startSessionRequest struct {
	Prompt      string `json:"prompt"`
	ProductType string `json:"productType"`
}

func (h *DesignHandler) startSession(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}

	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	session, err := h.service.StartWithPrompt(c.Request().Context(), identity, req.Prompt, req.ProductType)
	if err != nil {
		if !errors.Is(err, models.ErrEmptyPrompt) {
			h.logger.Error("Error starting design session",
				zap.String("userID", identity.UserID.String()), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(session))
}

func (h *DesignHandler) listSessions(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	cursor := c.QueryParam("cursor")

	sessions, nextCursor, err := h.service.ListDrafts(c.Request().Context(), identity, cursor, limit)
	if err != nil {
		if !errors.Is(err, repository.ErrInvalidCursor) {
			h.logger.Error("Error listing design sessions",
				zap.String("userID", identity.UserID.String()), zap.Error(err))
		}
		return handleServiceError(c, err)
	}

	resp := SessionListResponse{NextCursor: nextCursor, Sessions: make([]SessionResponse, 0, len(sessions))}
	for i := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(&sessions[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *DesignHandler) getSession(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	session, err := h.service.Resume(c.Request().Context(), identity, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Error("Error resuming design session",
				zap.String("sessionID", id.String()), zap.Error(err))
		}
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

type updateDraftRequest struct {
	Prompt      *string `json:"prompt"`
	Style       *string `json:"style"`
	Color       *string `json:"color"`
	ProductType *string `json:"productType"`
}

func (h *DesignHandler) updateDraft(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	var req updateDraftRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	session, err := h.service.UpdateDraft(c.Request().Context(), identity, id, service.DraftUpdate{
		Prompt:      req.Prompt,
		Style:       req.Style,
		Color:       req.Color,
		ProductType: req.ProductType,
	})
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

type chooseStyleRequest struct {
	Style string `json:"style"`
}

func (h *DesignHandler) chooseStyle(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	var req chooseStyleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	session, err := h.service.ChooseStyle(c.Request().Context(), identity, id, req.Style)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

type chooseColorRequest struct {
	Color string `json:"color"`
}

func (h *DesignHandler) chooseColor(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	var req chooseColorRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	session, err := h.service.ChooseColor(c.Request().Context(), identity, id, req.Color)
	if err != nil {
		return handleServiceError(c, err)
	}
	// Generation continues in the background; the client follows progress
	// over the updates queue.
	return c.JSON(http.StatusAccepted, toSessionResponse(session))
}

type selectImageRequest struct {
	ImageURL string `json:"imageUrl"`
}

func (h *DesignHandler) selectImage(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	var req selectImageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	session, err := h.service.SelectImage(c.Request().Context(), identity, id, req.ImageURL)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

type applyToolRequest struct {
	Operation string            `json:"operation"`
	Params    map[string]string `json:"params"`
}

func (h *DesignHandler) applyTool(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	var req applyToolRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
	}

	session, err := h.service.ApplyTool(c.Request().Context(), identity, id, models.JobKind(req.Operation), req.Params)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

func (h *DesignHandler) undoEdit(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	session, err := h.service.UndoEdit(c.Request().Context(), identity, id)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

func (h *DesignHandler) submitSession(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	session, err := h.service.Submit(c.Request().Context(), identity, id)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

func (h *DesignHandler) remixSession(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	session, err := h.service.Remix(c.Request().Context(), identity, id)
	if err != nil {
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toSessionResponse(session))
}

func (h *DesignHandler) deleteSession(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}
	id, err := sessionIDFromPath(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, APIError{Message: "Invalid session ID format"})
	}

	if err := h.service.Delete(c.Request().Context(), identity, id); err != nil {
		return handleServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DesignHandler) getBalance(c echo.Context) error {
	identity, err := identityFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, APIError{Message: err.Error()})
	}

	balance, err := h.service.GetBalance(c.Request().Context(), identity)
	if err != nil {
		h.logger.Error("Error getting credit balance",
			zap.String("userID", identity.UserID.String()), zap.Error(err))
		return handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, BalanceResponse{Balance: balance})
}
