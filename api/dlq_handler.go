package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/backlog/dlq"
)

// CountResponse reports a number of failed jobs.
type CountResponse struct {
	Count int64 `json:"count"`
}

// RetryAllResponse reports how many failed jobs were pushed back.
type RetryAllResponse struct {
	Retried int `json:"retried"`
}

// DeleteResponse reports how many failed jobs were deleted.
type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

func (a *API) failures() (*dlq.Service, error) {
	if s := a.eng.Failed(); s != nil {
		return s, nil
	}
	return nil, errNoFailureStore
}

// GET /v1/failed?queue=&limit=&offset=
func (a *API) listFailed(c *gin.Context) {
	svc, err := a.failures()
	if err != nil {
		a.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		a.fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		a.fail(c, err)
		return
	}

	entries, err := svc.List(c.Request.Context(), dlq.ListOpts{
		Limit:  limit,
		Offset: offset,
		Queue:  c.Query("queue"),
	})
	if err != nil {
		a.fail(c, fmt.Errorf("list failed jobs: %w", err))
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) countFailed(c *gin.Context) {
	svc, err := a.failures()
	if err != nil {
		a.fail(c, err)
		return
	}
	n, err := svc.Count(c.Request.Context())
	if err != nil {
		a.fail(c, fmt.Errorf("count failed jobs: %w", err))
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

func (a *API) getFailed(c *gin.Context) {
	svc, err := a.failures()
	if err != nil {
		a.fail(c, err)
		return
	}
	entry, err := svc.Find(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (a *API) retryFailed(c *gin.Context) {
	svc, err := a.failures()
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := svc.Retry(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/failed/retry?queue=
func (a *API) retryAllFailed(c *gin.Context) {
	svc, err := a.failures()
	if err != nil {
		a.fail(c, err)
		return
	}
	n, err := svc.RetryAll(c.Request.Context(), c.Query("queue"))
	if err != nil {
		a.fail(c, fmt.Errorf("retry failed jobs (%d retried): %w", n, err))
		return
	}
	c.JSON(http.StatusOK, RetryAllResponse{Retried: n})
}

func (a *API) forgetFailed(c *gin.Context) {
	svc, err := a.failures()
	if err != nil {
		a.fail(c, err)
		return
	}
	if err := svc.Forget(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DELETE /v1/failed?older_than=720h deletes failures older than the given
// age; without it every failure is deleted.
func (a *API) flushFailed(c *gin.Context) {
	svc, err := a.failures()
	if err != nil {
		a.fail(c, err)
		return
	}

	var n int64
	if v := c.Query("older_than"); v != "" {
		age, perr := time.ParseDuration(v)
		if perr != nil || age <= 0 {
			a.fail(c, errors.Join(errBadRequest, fmt.Errorf("older_than %q is not a positive duration", v)))
			return
		}
		n, err = svc.Purge(c.Request.Context(), time.Now().UTC().Add(-age))
	} else {
		n, err = svc.Flush(c.Request.Context())
	}
	if err != nil {
		a.fail(c, fmt.Errorf("delete failed jobs: %w", err))
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Deleted: n})
}
