package handler

import (
	"bufio"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultTailLines = 200
	maxTailLines     = 1000
)

// LogsHandler 日志查询处理器
type LogsHandler struct {
	path string
}

// NewLogsHandler 创建处理器，path 为日志文件路径
func NewLogsHandler(path string) *LogsHandler {
	return &LogsHandler{path: strings.TrimSpace(path)}
}

// TailLogs 返回日志末尾 N 行，可按关键字 q 与级别 level 过滤
func (h *LogsHandler) TailLogs(c *gin.Context) {
	if h.path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "LOG_PATH_EMPTY", Message: "日志路径未配置"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTailLines)))
	if limit <= 0 || limit > maxTailLines {
		limit = defaultTailLines
	}
	filter := lineFilter{
		keyword: strings.ToLower(strings.TrimSpace(c.Query("q"))),
		level:   strings.ToLower(strings.TrimSpace(c.Query("level"))),
	}

	lines, err := tailLines(h.path, limit, filter.match)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			ok(c, http.StatusOK, "获取日志成功", gin.H{"path": h.path, "count": 0, "lines": []string{}})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "READ_FAILED", Message: "读取日志失败: " + err.Error()})
		return
	}
	ok(c, http.StatusOK, "获取日志成功", gin.H{"path": h.path, "count": len(lines), "lines": lines})
}

type lineFilter struct {
	keyword string
	level   string
}

// match 级别匹配兼容 text 与 json 两种格式
func (f lineFilter) match(line string) bool {
	lc := strings.ToLower(line)
	if f.keyword != "" && !strings.Contains(lc, f.keyword) {
		return false
	}
	if f.level != "" &&
		!strings.Contains(lc, `"level":"`+f.level+`"`) &&
		!strings.Contains(lc, "level="+f.level) &&
		!strings.Contains(lc, "["+f.level+"]") {
		return false
	}
	return true
}

// tailLines 读取文件，保留最后 limit 条匹配行
func tailLines(path string, limit int, match func(string) bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, limit)
	next := 0
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for s.Scan() {
		line := s.Text()
		if !match(line) {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, line)
			continue
		}
		ring[next] = line
		next = (next + 1) % limit
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return append(ring[next:], ring[:next]...), nil
}
