package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) listCrons(c *gin.Context) {
	c.JSON(http.StatusOK, a.eng.Scheduler().Entries())
}
