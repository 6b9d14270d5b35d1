package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/C4T-BuT-S4D/cfwatch/internal/codeforces"
	"github.com/C4T-BuT-S4D/cfwatch/internal/config"
	"github.com/C4T-BuT-S4D/cfwatch/internal/models"
	"github.com/C4T-BuT-S4D/cfwatch/internal/monitor"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type BindingStore interface {
	AccountBound(ctx context.Context, channelID, account string) (bool, error)
	AddBinding(ctx context.Context, binding *models.Binding) (bool, error)
	RemoveRequesterBinding(ctx context.Context, channelID, requesterID, account string) (bool, error)
	ListChannelBindings(ctx context.Context, channelID string) (map[string][]string, error)
	ListRequesterAccounts(ctx context.Context, channelID, requesterID string) ([]string, error)
}

type Judge interface {
	FetchRecentAccepted(ctx context.Context, handle string) ([]*codeforces.Submission, error)
}

type Status struct {
	Gateway   string                `json:"gateway"`
	LastCycle *monitor.CycleSummary `json:"last_cycle,omitempty"`
}

type StatusProvider func() Status

type Service struct {
	config *config.Config
	store  BindingStore
	judge  Judge
	status StatusProvider
}

func NewService(cfg *config.Config, store BindingStore, judge Judge) *Service {
	return &Service{
		config: cfg,
		store:  store,
		judge:  judge,
	}
}

// WithStatus exposes /status, served by the bot process.
func (s *Service) WithStatus(p StatusProvider) *Service {
	s.status = p
	return s
}

func (s *Service) Register(e *echo.Echo) {
	e.JSONSerializer = sonicSerializer{}
	e.Validator = newRequestValidator()

	e.GET("/healthz", s.HandleHealth())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if s.status != nil {
		e.GET("/status", s.HandleStatus())
	}

	if s.store == nil {
		return
	}
	g := e.Group("/channels/:channel/bindings")
	if s.config.AdminToken != "" {
		g.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.AdminToken)) == 1, nil
			},
			ErrorHandler: func(err error, c echo.Context) error {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized").SetInternal(err)
			},
		}))
	}
	g.POST("", s.HandleBind())
	g.GET("", s.HandleList())
	g.DELETE("/:account", s.HandleUnbind())
}

func (s *Service) HandleHealth() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	}
}

func (s *Service) HandleStatus() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.status())
	}
}

type bindRequest struct {
	Requester string `json:"requester" validate:"required,max=64"`
	Account   string `json:"account" validate:"required,max=64,cf_handle"`
}

func (s *Service) HandleBind() echo.HandlerFunc {
	return func(c echo.Context) error {
		channel := c.Param("channel")
		req := new(bindRequest)
		if err := c.Bind(req); err != nil {
			return err
		}
		if err := c.Validate(req); err != nil {
			return err
		}

		ctx := c.Request().Context()
		logger := logrus.WithFields(logrus.Fields{
			"op":        "bind",
			"channel":   channel,
			"requester": req.Requester,
			"account":   req.Account,
		})

		bound, err := s.store.AccountBound(ctx, channel, req.Account)
		if err != nil {
			logger.Errorf("checking binding: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check binding"})
		}
		if bound {
			logger.Info("already bound")
			return c.JSON(http.StatusConflict, echo.Map{"error": "account is already bound in this channel"})
		}

		if _, err := s.judge.FetchRecentAccepted(ctx, req.Account); err != nil {
			if errors.Is(err, codeforces.ErrAccountNotFound) {
				logger.Info("account does not exist")
				return c.JSON(http.StatusNotFound, echo.Map{"error": "account does not exist"})
			}
			logger.Errorf("verifying account: %v", err)
			reason := err.Error()
			var apiErr *codeforces.APIError
			if errors.As(err, &apiErr) {
				reason = apiErr.Reason()
			}
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "judge api request failed: " + reason})
		}

		binding := &models.Binding{
			ChannelID:   channel,
			RequesterID: req.Requester,
			AccountID:   req.Account,
		}
		created, err := s.store.AddBinding(ctx, binding)
		if err != nil {
			logger.Errorf("adding binding: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to add binding"})
		}
		if !created {
			return c.JSON(http.StatusConflict, echo.Map{"error": "account is already bound in this channel"})
		}

		logger.Info("bound")
		return c.JSON(http.StatusCreated, echo.Map{
			"channel":   binding.ChannelID,
			"requester": binding.RequesterID,
			"account":   binding.AccountID,
		})
	}
}

func (s *Service) HandleUnbind() echo.HandlerFunc {
	return func(c echo.Context) error {
		channel, account := c.Param("channel"), c.Param("account")
		requester := c.QueryParam("requester")
		if requester == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "requester is required"})
		}

		logger := logrus.WithFields(logrus.Fields{
			"op":        "unbind",
			"channel":   channel,
			"requester": requester,
			"account":   account,
		})

		removed, err := s.store.RemoveRequesterBinding(c.Request().Context(), channel, requester, account)
		if err != nil {
			logger.Errorf("removing binding: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to remove binding"})
		}
		if !removed {
			logger.Info("no such binding")
			return c.JSON(http.StatusNotFound, echo.Map{"error": "account is not bound by this requester"})
		}

		logger.Info("unbound")
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Service) HandleList() echo.HandlerFunc {
	return func(c echo.Context) error {
		channel := c.Param("channel")
		ctx := c.Request().Context()

		if requester := c.QueryParam("requester"); requester != "" {
			accounts, err := s.store.ListRequesterAccounts(ctx, channel, requester)
			if err != nil {
				logrus.Errorf("listing accounts of %s in %s: %v", requester, channel, err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list bindings"})
			}
			if accounts == nil {
				accounts = []string{}
			}
			return c.JSON(http.StatusOK, echo.Map{"requester": requester, "accounts": accounts})
		}

		bindings, err := s.store.ListChannelBindings(ctx, channel)
		if err != nil {
			logrus.Errorf("listing bindings of %s: %v", channel, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list bindings"})
		}
		return c.JSON(http.StatusOK, echo.Map{"channel": channel, "bindings": bindings})
	}
}
