package main

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/windrose-social/windrose/apuri"
	"github.com/windrose-social/windrose/models"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ResolveOutput struct {
	Kind    string          `json:"kind"`
	User    *models.User    `json:"user,omitempty"`
	Note    *models.Note    `json:"note,omitempty"`
	Message *models.Message `json:"message,omitempty"`
}

type AuthOutput struct {
	User *models.User          `json:"user"`
	Key  *models.UserPublicKey `json:"key,omitempty"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(200, map[string]string{"status": "ok"})
}

// Resolves an identifier as a user, note, or chat message, per the "kind"
// query param (default "user").
func (srv *Server) HandleResolve(c echo.Context) error {
	ctx := c.Request().Context()
	uri := c.QueryParam("uri")
	kind := c.QueryParam("kind")
	if kind == "" {
		kind = "user"
	}

	out := ResolveOutput{Kind: kind}
	var err error
	var found bool
	switch kind {
	case "user":
		out.User, err = srv.resolver.UserFromApID(ctx, uri)
		found = out.User != nil
	case "note":
		out.Note, err = srv.resolver.NoteFromApID(ctx, uri)
		found = out.Note != nil
	case "message":
		out.Message, err = srv.resolver.MessageFromApID(ctx, uri)
		found = out.Message != nil
	default:
		return c.JSON(400, GenericError{
			Error:   "InvalidKind",
			Message: fmt.Sprintf("unknown kind: %s", kind),
		})
	}
	if errors.Is(err, apuri.ErrInvalidIdentifier) {
		return c.JSON(400, GenericError{
			Error:   "InvalidIdentifier",
			Message: err.Error(),
		})
	} else if err != nil {
		return c.JSON(500, GenericError{
			Error:   "InternalError",
			Message: err.Error(),
		})
	}
	if !found {
		return c.JSON(404, GenericError{
			Error:   "NotFound",
			Message: fmt.Sprintf("no %s matches identifier", kind),
		})
	}
	return c.JSON(200, out)
}

func (srv *Server) HandleAuthKey(c echo.Context) error {
	ctx := c.Request().Context()

	auth, err := srv.resolver.AuthUserFromKeyID(ctx, c.QueryParam("keyId"))
	if err != nil {
		return c.JSON(500, GenericError{
			Error:   "InternalError",
			Message: err.Error(),
		})
	}
	if auth == nil {
		return c.JSON(404, GenericError{
			Error:   "KeyNotFound",
			Message: "no key record matches keyId",
		})
	}
	return c.JSON(200, AuthOutput{User: auth.User, Key: auth.Key})
}

func (srv *Server) HandleAuthActor(c echo.Context) error {
	ctx := c.Request().Context()

	auth, err := srv.resolver.AuthUserFromApID(ctx, c.QueryParam("uri"))
	if err != nil {
		return c.JSON(500, GenericError{
			Error:   "InternalError",
			Message: err.Error(),
		})
	}
	if auth == nil {
		return c.JSON(404, GenericError{
			Error:   "ActorNotFound",
			Message: "actor did not resolve",
		})
	}
	return c.JSON(200, AuthOutput{User: auth.User, Key: auth.Key})
}
