package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/provider"
)

type SessionStore interface {
	Tokens() provider.Tokens
	SetTokens(ctx context.Context, tokens provider.Tokens)
	Clear(ctx context.Context)
}

// SessionHandler lets the embedding UI hand over credentials after login and
// drop them on logout. onChange runs after every change, for example to
// reconnect realtime channels with the new token.
type SessionHandler struct {
	store    SessionStore
	onChange func(signedIn bool)
}

func NewSessionHandler(store SessionStore, onChange func(signedIn bool)) (*SessionHandler, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	return &SessionHandler{store: store, onChange: onChange}, nil
}

func RegisterSessionRoutes(router fiber.Router, store SessionStore, onChange func(signedIn bool)) error {
	h, err := NewSessionHandler(store, onChange)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/session", h.GetSession)
	v1.Put("/session", h.PutSession)
	v1.Delete("/session", h.DeleteSession)

	return nil
}

type sessionRequest struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	tokens := h.store.Tokens()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"signedIn":    tokens.Access != "",
		"refreshable": tokens.Refresh != "",
	})
}

func (h *SessionHandler) PutSession(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	tokens := provider.Tokens{
		Access:  strings.TrimSpace(req.Access),
		Refresh: strings.TrimSpace(req.Refresh),
	}
	if tokens.Access == "" {
		return toHTTPError(fmt.Errorf("%w: access is required", domain.ErrValidation))
	}

	h.store.SetTokens(c.UserContext(), tokens)
	h.changed(true)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	h.store.Clear(c.UserContext())
	h.changed(false)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) changed(signedIn bool) {
	if h.onChange != nil {
		h.onChange(signedIn)
	}
}
