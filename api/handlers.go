package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-sync/board"
	"board-sync/domain"
	"board-sync/subscription"
)

const maxBodySize = 64 << 10

// Boards hands out the live board of a project.
type Boards interface {
	Session(ctx context.Context, projectID string) (*board.Session, error)
}

// Reads serves cached read queries.
type Reads interface {
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)
	ColumnCounts(ctx context.Context, projectID string) (map[string]int, error)
}

// Authenticator resolves the calling user from an Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Boards Boards
	Reads  Reads
	Auth   Authenticator
	// Transport backs the per-connection change streams. Without it the
	// stream route is not registered.
	Transport subscription.Transport
	// Health reports whether the service can reach its backends.
	Health func(ctx context.Context) error
	Logger *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	e.JSONSerializer = SonicSerializer{}
	e.GET("/healthz", healthz(d.Health))

	g := e.Group("/api/projects/:project", requireUser(d.Auth))
	obs := observe(d.Logger)
	g.GET("/tasks", listTasks(d.Reads), obs)
	g.GET("/columns", columnCounts(d.Reads), obs)
	g.POST("/tasks", createTask(d.Boards), obs)
	g.PATCH("/tasks/:id", updateTask(d.Boards), obs)
	g.DELETE("/tasks/:id", deleteTask(d.Boards), obs)
	g.POST("/moves", moveTask(d.Boards), obs)
	if d.Transport != nil {
		g.GET("/stream", streamChanges(d.Boards, d.Transport, d.Logger))
	}
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type columnsResponse struct {
	Columns map[string]int `json:"columns"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type createTaskRequest struct {
	ID          string   `json:"id"`
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	AssigneeID  string   `json:"assigneeId"`
	Tags        []string `json:"tags"`
}

func healthz(check func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if check == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := check(ctx); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusServiceUnavailable, "unhealthy")
		}
		return c.NoContent(http.StatusOK)
	}
}

func listTasks(reads Reads) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		start := time.Now()
		tasks, err := reads.ListTasks(c.Request().Context(), c.Param("project"))
		m.ObserveBoard(time.Since(start))
		if err != nil {
			m.Fail("storage", err)
			return writeError(c, err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		m.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func columnCounts(reads Reads) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		start := time.Now()
		counts, err := reads.ColumnCounts(c.Request().Context(), c.Param("project"))
		m.ObserveBoard(time.Since(start))
		if err != nil {
			m.Fail("storage", err)
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, columnsResponse{Columns: counts})
	}
}

func createTask(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return bodyError(c, err)
		}
		s, ctx, err := session(c, boards)
		if err != nil {
			return writeError(c, err)
		}
		m := metricsFrom(c)
		start := time.Now()
		created, err := s.Controller.CreateTask(ctx, domain.Task{
			ID:          req.ID,
			ColumnID:    req.ColumnID,
			Title:       req.Title,
			Description: req.Description,
			AssigneeID:  req.AssigneeID,
			Tags:        req.Tags,
		})
		m.ObserveBoard(time.Since(start))
		if err != nil {
			m.Fail("mutation", err)
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, created)
	}
}

func updateTask(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return bodyError(c, err)
		}
		s, ctx, err := session(c, boards)
		if err != nil {
			return writeError(c, err)
		}
		m := metricsFrom(c)
		start := time.Now()
		updated, err := s.Controller.UpdateTask(ctx, c.Param("id"), patch)
		m.ObserveBoard(time.Since(start))
		if err != nil {
			m.Fail("mutation", err)
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteTask(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, ctx, err := session(c, boards)
		if err != nil {
			return writeError(c, err)
		}
		m := metricsFrom(c)
		start := time.Now()
		err = s.Controller.DeleteTask(ctx, c.Param("id"))
		m.ObserveBoard(time.Since(start))
		if err != nil {
			m.Fail("mutation", err)
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveTask(boards Boards) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req domain.MoveRequest
		if err := decodeBody(c, &req); err != nil {
			return bodyError(c, err)
		}
		s, ctx, err := session(c, boards)
		if err != nil {
			return writeError(c, err)
		}
		m := metricsFrom(c)
		start := time.Now()
		err = s.Controller.MoveTask(ctx, req)
		m.ObserveBoard(time.Since(start))
		if err != nil {
			m.Fail("mutation", err)
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// session loads the project's board and returns a context carrying the
// calling user for activity entries.
func session(c echo.Context, boards Boards) (*board.Session, context.Context, error) {
	ctx := c.Request().Context()
	s, err := boards.Session(ctx, c.Param("project"))
	if err != nil {
		metricsFrom(c).Fail("session", err)
		return nil, nil, err
	}
	return s, board.WithActor(ctx, userFrom(c)), nil
}

func decodeBody(c echo.Context, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(http.MaxBytesReader(c.Response(), c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func bodyError(c echo.Context, err error) error {
	metricsFrom(c).Fail("decode", err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "payload-too-large", Message: "request body too large"})
	}
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid-argument", Message: "invalid body"})
}

// writeError maps domain errors to a status and the user-facing message.
func writeError(c echo.Context, err error) error {
	var (
		ia *domain.InvalidArgumentError
		nf *domain.NotFoundError
		pe *domain.PersistenceError
	)
	switch {
	case errors.As(err, &ia):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid-argument", Message: ia.Error()})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not-found", Message: nf.Error()})
	case errors.As(err, &pe):
		return c.JSON(statusForKind(pe.Kind), errorResponse{Error: string(pe.Kind), Message: pe.UserMessage()})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: string(domain.KindUnknown), Message: domain.KindUnknown.UserMessage()})
}

func statusForKind(k domain.FailureKind) int {
	switch k {
	case domain.KindPermission:
		return http.StatusForbidden
	case domain.KindNetwork:
		return http.StatusServiceUnavailable
	case domain.KindSchema:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
