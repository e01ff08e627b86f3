package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tripboard-api/board"
	"tripboard-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc BoardService, auth Authenticator, logger *log.Logger) {
	e.GET("/api/templates/:templateId/tasks", getBoard(svc, auth, logger))
	e.POST("/api/templates/:templateId/tasks", createTask(svc, auth))
	e.PATCH("/api/templates/:templateId/tasks/:taskId", updateTask(svc, auth))
	e.POST("/api/templates/:templateId/tasks/:taskId/move", moveTask(svc, auth))
	e.DELETE("/api/templates/:templateId/tasks/:taskId", deleteTask(svc, auth))
	e.GET("/api/templates/:templateId/members", getMembers(svc, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(svc BoardService, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		loadStart := time.Now()
		grouped, loadErr := svc.Board(ctx, c.Param("templateId"))
		metrics.ObserveLoad(time.Since(loadStart))
		if loadErr != nil {
			metrics.SetErrorStage("load")
			err = writeError(c, loadErr)
			return err
		}
		metrics.SetTasksReturned(len(grouped.Empty) + len(grouped.InProgress) + len(grouped.Done) + len(grouped.Deleted))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, grouped)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var in board.CreateInput
		if err := decodeBody(c, &in); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: string(domain.CodeValidation)})
		}
		task, err := svc.Create(c.Request().Context(), userID, c.Param("templateId"), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var patch board.UpdateInput
		if err := decodeBody(c, &patch); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: string(domain.CodeValidation)})
		}
		task, err := svc.Update(c.Request().Context(), userID, c.Param("templateId"), c.Param("taskId"), patch)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func moveTask(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var in board.MoveInput
		if err := decodeBody(c, &in); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: string(domain.CodeValidation)})
		}
		grouped, err := svc.Move(c.Request().Context(), userID, c.Param("templateId"), c.Param("taskId"), in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, grouped)
	}
}

func deleteTask(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		grouped, err := svc.Delete(c.Request().Context(), c.Param("templateId"), c.Param("taskId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, grouped)
	}
}

func getMembers(svc BoardService, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		members, err := svc.Members(c.Request().Context(), c.Param("templateId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, members)
	}
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeError maps domain error codes onto HTTP statuses. Errors outside the
// board taxonomy are storage failures and surface as 500s.
func writeError(c echo.Context, err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return c.JSON(statusForCode(derr.Code), errorResponse{Error: string(derr.Code)})
	}
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, err.Error())
}

func statusForCode(code domain.Code) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeAssigneeNotMember:
		return http.StatusUnprocessableEntity
	case domain.CodeBoardNotFound, domain.CodeTaskNotFound:
		return http.StatusNotFound
	case domain.CodeTransactionAborted:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
