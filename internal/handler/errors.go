package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/picshare/internal/autherr"
	"github.com/jmerrifield20/picshare/internal/users"
	"go.uber.org/zap"
)

// classify maps err onto the public error taxonomy.
func classify(err error) *autherr.Error {
	if e, ok := autherr.As(err); ok {
		return e
	}
	switch {
	case errors.Is(err, users.ErrDuplicateEmail):
		return autherr.ErrEmailTaken
	case errors.Is(err, users.ErrInvalidCredentials), errors.Is(err, users.ErrPasswordNotSet):
		return autherr.ErrBadCredentials
	case errors.Is(err, users.ErrWeakPassword), errors.Is(err, users.ErrInvalidEmail):
		return autherr.WithMessage(autherr.ErrInvalidInput, err.Error())
	case errors.Is(err, users.ErrNotFound):
		return autherr.WithMessage(autherr.ErrUnauthenticated, "account no longer exists")
	}
	return autherr.ErrInternal
}

// respondError writes err as a JSON error body and aborts the chain.
// Internal errors are logged with their cause; the body never carries it.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	e := classify(err)
	if e.Kind == autherr.KindInternal {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(e.Status, e)
}

// badRequest reports a malformed request body.
func badRequest(c *gin.Context, message string) {
	e := autherr.WithMessage(autherr.ErrInvalidInput, message)
	c.AbortWithStatusJSON(e.Status, e)
}
