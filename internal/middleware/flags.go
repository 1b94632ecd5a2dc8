package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/festival-ticketing/internal/model"
	"github.com/iliyamo/festival-ticketing/internal/repository"
)

// KeyFeatures holds the request's model.FeatureFlags snapshot.
const KeyFeatures = "features"

// Flags reads the event configuration once per request and stores the
// snapshot in the context. When the row is missing or unreadable, defaults
// are used.
func Flags(store repository.Store, defaults model.FeatureFlags, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			flags, err := loadFlags(c.Request().Context(), store)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					log.Warn("feature flags unavailable, using defaults", zap.Error(err))
				}
				flags = defaults
			}
			c.Set(KeyFeatures, flags)
			return next(c)
		}
	}
}

func loadFlags(ctx context.Context, store repository.Store) (model.FeatureFlags, error) {
	var f model.FeatureFlags
	err := store.View(ctx, func(tx repository.Tx) error {
		got, err := tx.GetFeatureFlags(ctx)
		if err != nil {
			return err
		}
		f = *got
		return nil
	})
	return f, err
}

// Features returns the snapshot stored by Flags. Without one every feature
// is on.
func Features(c echo.Context) model.FeatureFlags {
	if f, ok := c.Get(KeyFeatures).(model.FeatureFlags); ok {
		return f
	}
	return model.AllFeatures()
}

// RequireFeature answers 503 when enabled reports the feature off.
func RequireFeature(name string, enabled func(model.FeatureFlags) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !enabled(Features(c)) {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{
					"error":   "feature_disabled",
					"message": name + " is currently disabled",
				})
			}
			return next(c)
		}
	}
}
