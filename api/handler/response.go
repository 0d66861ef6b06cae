package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ocrtool/ocrtool/internal/service"
	"github.com/ocrtool/ocrtool/internal/topology"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, SuccessResponse{Code: "SUCCESS", Message: message, Data: data})
}

// writeError 将业务错误映射为 HTTP 状态码与错误码
func writeError(c *gin.Context, err error) {
	var serr *topology.SchemaError
	switch {
	case errors.As(err, &serr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_TOPOLOGY", Message: err.Error(), Details: serr.Fields})
	case errors.Is(err, service.ErrGateNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "GATE_NOT_FOUND", Message: "闸口不存在"})
	case errors.Is(err, service.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "JOB_NOT_FOUND", Message: "任务不存在或已过期"})
	case errors.Is(err, service.ErrNoSelection):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "NO_SELECTION", Message: "未选择设备"})
	case errors.Is(err, service.ErrTopologyNotLoaded):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "TOPOLOGY_NOT_LOADED", Message: "拓扑未加载"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL_ERROR", Message: err.Error()})
	}
}
