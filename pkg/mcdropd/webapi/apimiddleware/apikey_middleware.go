package apimiddleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
)

// UserKey is the echo context key the authenticated *mcmodel.User is stored under.
const UserKey = "User"

const DefaultQueryParam = "apikey"

type GetUserByAPIKeyFN func(string) (*mcmodel.User, error)

type APIKeyConfig struct {
	Skipper         middleware.Skipper
	Keyname         string
	QueryParam      string
	GetUserByAPIKey GetUserByAPIKeyFN
}

// APIKeyAuth resolves the api key sent in the Keyname header, or the QueryParam
// query parameter, to a user. Browsers cannot set headers on EventSource and
// websocket requests, which is what the query parameter is for.
func APIKeyAuth(config APIKeyConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	if config.QueryParam == "" {
		config.QueryParam = DefaultQueryParam
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			value, err := getAPIKeyFromRequest(config, c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			user, err := config.GetUserByAPIKey(value)
			switch {
			case err != nil:
				return echo.ErrUnauthorized
			case user == nil:
				return echo.ErrUnauthorized
			default:
				c.Set(UserKey, user)
				return next(c)
			}
		}
	}
}

// AdminOnly refuses requests whose authenticated user is not an admin. It must run
// after APIKeyAuth.
func AdminOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := c.Get(UserKey).(*mcmodel.User)
			if !ok || user == nil || !user.IsAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}

			return next(c)
		}
	}
}

func getAPIKeyFromRequest(config APIKeyConfig, c echo.Context) (string, error) {
	if value, err := keyFromHeader(config.Keyname, c); err == nil {
		return value, nil
	}

	if value, err := keyFromQuery(config.QueryParam, c); err == nil {
		return value, nil
	}

	return "", fmt.Errorf("no apikey as header '%s' or query param '%s'", config.Keyname, config.QueryParam)
}

func keyFromHeader(key string, c echo.Context) (string, error) {
	value := c.Request().Header.Get(key)
	if value == "" {
		return "", fmt.Errorf("no apikey '%s' as header", key)
	}
	return value, nil
}

func keyFromQuery(key string, c echo.Context) (string, error) {
	value := c.QueryParam(key)
	if value == "" {
		return "", fmt.Errorf("no apikey '%s' as query param", key)
	}
	return value, nil
}
