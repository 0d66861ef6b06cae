package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ocrtool/ocrtool/internal/service"
)

// FleetHandler 闸口与设备操作
type FleetHandler struct {
	fleet   *service.FleetService
	store   service.FleetSource
	monitor *service.Monitor
}

// NewFleetHandler 创建处理器；monitor 可为空
func NewFleetHandler(fleet *service.FleetService, store service.FleetSource, monitor *service.Monitor) *FleetHandler {
	return &FleetHandler{fleet: fleet, store: store, monitor: monitor}
}

// DeviceView 设备信息（不含密码）
type DeviceView struct {
	Name     string `json:"name"`
	Address  string `json:"ip"`
	Username string `json:"username"`
	Command  string `json:"command"`
}

// SelectionRequest 重启/重启系统请求
type SelectionRequest struct {
	Devices []string `json:"devices"`
}

// Health 健康检查
func (h *FleetHandler) Health(c *gin.Context) {
	fleet := h.store.Current()
	if fleet == nil {
		writeError(c, service.ErrTopologyNotLoaded)
		return
	}
	ok(c, http.StatusOK, "服务正常", gin.H{
		"gates":   len(fleet.GateNames()),
		"devices": fleet.DeviceCount(),
		"jobs":    len(h.fleet.Jobs().List()),
	})
}

// ListGates 闸口列表
func (h *FleetHandler) ListGates(c *gin.Context) {
	fleet := h.store.Current()
	if fleet == nil {
		writeError(c, service.ErrTopologyNotLoaded)
		return
	}
	ok(c, http.StatusOK, "获取闸口成功", fleet.GateNames())
}

// ListDevices 闸口下的设备
func (h *FleetHandler) ListDevices(c *gin.Context) {
	fleet := h.store.Current()
	if fleet == nil {
		writeError(c, service.ErrTopologyNotLoaded)
		return
	}
	devices, found := fleet.DevicesOf(c.Param("gate"))
	if !found {
		writeError(c, service.ErrGateNotFound)
		return
	}
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, DeviceView{Name: d.Name, Address: d.Address, Username: d.Username, Command: d.StatusCommand})
	}
	ok(c, http.StatusOK, "获取设备成功", views)
}

// Status 查询闸口状态；cached=true 时优先返回周期刷新的快照
func (h *FleetHandler) Status(c *gin.Context) {
	gate := c.Param("gate")
	if c.Query("cached") == "true" && h.monitor != nil {
		if snap, found := h.monitor.CachedStatus(c.Request.Context(), gate); found {
			ok(c, http.StatusOK, "获取状态成功", snap)
			return
		}
	}
	outcomes, err := h.fleet.Status(c.Request.Context(), gate)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "获取状态成功", service.StatusSnapshot{
		Gate:      gate,
		Devices:   service.NewStatusViews(outcomes),
		UpdatedAt: time.Now(),
	})
}

// Restart 重启选中设备的 OCR 服务
func (h *FleetHandler) Restart(c *gin.Context) {
	h.launch(c, service.OpRestart)
}

// Reboot 重启选中设备
func (h *FleetHandler) Reboot(c *gin.Context) {
	h.launch(c, service.OpReboot)
}

func (h *FleetHandler) launch(c *gin.Context, op service.Operation) {
	var req SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "请求参数无效: " + err.Error()})
		return
	}
	if err := service.CheckSelection(req.Devices); err != nil {
		writeError(c, err)
		return
	}

	var (
		job *service.Job
		err error
	)
	if op == service.OpReboot {
		job, err = h.fleet.Reboot(c.Request.Context(), c.Param("gate"), req.Devices)
	} else {
		job, err = h.fleet.Restart(c.Request.Context(), c.Param("gate"), req.Devices)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("wait") == "true" {
		_, _ = job.Wait(c.Request.Context())
	}
	ok(c, http.StatusAccepted, "任务已提交", job.View())
}

// GetJob 查询任务
func (h *FleetHandler) GetJob(c *gin.Context) {
	job, err := h.fleet.Jobs().Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, "获取任务成功", job.View())
}

// ListJobs 近期任务
func (h *FleetHandler) ListJobs(c *gin.Context) {
	jobs := h.fleet.Jobs().List()
	views := make([]service.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	ok(c, http.StatusOK, "获取任务成功", views)
}

// Sweep 立即执行一轮可达性巡检
func (h *FleetHandler) Sweep(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "SWEEP_DISABLED", Message: "巡检未启用"})
		return
	}
	if h.store.Current() == nil {
		writeError(c, service.ErrTopologyNotLoaded)
		return
	}
	ok(c, http.StatusOK, "巡检完成", h.monitor.SweepOnce(c.Request.Context()))
}

// LastSweep 最近一轮巡检结果
func (h *FleetHandler) LastSweep(c *gin.Context) {
	if h.monitor != nil {
		if snap, found := h.monitor.LastSweep(c.Request.Context()); found {
			ok(c, http.StatusOK, "获取巡检结果成功", snap)
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Code: "NO_SWEEP", Message: "暂无巡检结果"})
}
