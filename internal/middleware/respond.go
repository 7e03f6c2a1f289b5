package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/park285/deck-orchestrator-go/internal/httperror"
)

// WriteError 는 오류 응답을 작성한다. 재시도 지연 제안이 있으면 Retry-After 를 붙인다.
func WriteError(c *gin.Context, err error) {
	status, payload, apiErr := httperror.Describe(err, GetRequestID(c))
	if seconds := apiErr.RetryAfterSeconds(); seconds > 0 {
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.JSON(status, payload)
}

func abortWithError(c *gin.Context, err error) {
	WriteError(c, err)
	c.Abort()
}
