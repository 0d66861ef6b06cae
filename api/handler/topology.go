package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ocrtool/ocrtool/internal/service"
)

// maxTopologySize 上传文档大小上限
const maxTopologySize = 4 << 20

// TopologyHandler 拓扑查看与上传
type TopologyHandler struct {
	store *service.FleetStore
}

// NewTopologyHandler 创建处理器
func NewTopologyHandler(store *service.FleetStore) *TopologyHandler {
	return &TopologyHandler{store: store}
}

// Summary 当前拓扑概要
func (h *TopologyHandler) Summary(c *gin.Context) {
	fleet := h.store.Current()
	if fleet == nil {
		writeError(c, service.ErrTopologyNotLoaded)
		return
	}
	ok(c, http.StatusOK, "获取拓扑成功", gin.H{
		"path":      h.store.Path(),
		"gates":     fleet.GateNames(),
		"devices":   fleet.DeviceCount(),
		"loaded_at": h.store.LoadedAt(),
	})
}

// Upload 上传拓扑：支持 multipart 字段 file 或直接提交 JSON 正文。
// 校验失败时整份文档被拒绝，当前拓扑不变。
func (h *TopologyHandler) Upload(c *gin.Context) {
	data, err := readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "读取上传内容失败: " + err.Error()})
		return
	}
	res, err := h.store.Upload(c.Request.Context(), data)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "拓扑已更新", res)
}

func readUpload(c *gin.Context) ([]byte, error) {
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxTopologySize))
	}
	return io.ReadAll(io.LimitReader(c.Request.Body, maxTopologySize))
}
