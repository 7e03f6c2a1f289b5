package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/park285/deck-orchestrator-go/internal/httperror"
	"github.com/park285/deck-orchestrator-go/internal/middleware"
)

// writeError: 에러 응답을 작성합니다 (middleware.WriteError 위임).
func writeError(c *gin.Context, err error) {
	middleware.WriteError(c, err)
}

// bindJSON: 요청 본문을 JSON으로 파싱합니다. 실패하면 422 응답을 쓰고 false.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(c, httperror.NewInvalidInput("request body is required"))
			return false
		}
		writeError(c, httperror.NewValidationError(err))
		return false
	}
	return true
}
